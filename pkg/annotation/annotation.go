// Package annotation stores product-to-term assertions as a term-keyed
// multi-map with set semantics on (product, term).
package annotation

import "strings"

// Key is the identity of an annotation. Metadata never takes part in
// equality: two annotations with the same key are duplicates even if their
// evidence codes differ.
type Key struct {
	ProductID string `json:"product_id"`
	TermID    string `json:"term_id"`
}

// Annotation links a product to a GO term with provenance metadata.
type Annotation struct {
	ProductID    string            `json:"product_id"`
	TermID       string            `json:"term_id"`
	Qualifier    string            `json:"qualifier,omitempty"`
	Negated      bool              `json:"negated,omitempty"`
	Reference    string            `json:"reference,omitempty"`
	EvidenceCode string            `json:"evidence_code,omitempty"`
	Taxon        string            `json:"taxon,omitempty"`
	Date         string            `json:"date,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Key returns the identity of a.
func (a Annotation) Key() Key {
	return Key{ProductID: a.ProductID, TermID: a.TermID}
}

// TaxonID returns the bare NCBI taxon id of a GAF taxon column. Only the
// first taxon counts: "taxon:9606|taxon:1280" gives "9606".
func TaxonID(taxon string) string {
	if i := strings.IndexByte(taxon, '|'); i >= 0 {
		taxon = taxon[:i]
	}
	taxon = strings.TrimSpace(taxon)
	if i := strings.IndexByte(taxon, ':'); i >= 0 {
		taxon = taxon[i+1:]
	}
	return taxon
}

// Clone returns a deep copy of a.
func (a Annotation) Clone() Annotation {
	out := a
	if a.Extra != nil {
		out.Extra = make(map[string]string, len(a.Extra))
		for k, v := range a.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
