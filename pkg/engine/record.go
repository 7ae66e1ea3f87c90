package engine

import (
	"sort"
)

// Enrichment markers.
const (
	Enriched = "e"
	Purified = "p"
)

// Uncorrected names the raw p-value in PValue lookups.
const Uncorrected = "uncorrected"

// Record is the outcome of scoring one candidate product against a study.
// The fixed fields never change after scoring; Corrected only grows, one
// entry per correction method.
type Record struct {
	ProductID    string             `json:"product_id"`
	StudyItems   []string           `json:"study_items"`
	StudyCount   int                `json:"study_count"`
	StudyN       int                `json:"study_n"`
	PopCount     int                `json:"pop_count"`
	PopN         int                `json:"pop_n"`
	PUncorrected float64            `json:"p_uncorrected"`
	Enrichment   string             `json:"enrichment"`
	Corrected    map[string]float64 `json:"corrected,omitempty"`
}

// SetCorrected attaches the corrected p-value for method.
func (r *Record) SetCorrected(method string, p float64) {
	if r.Corrected == nil {
		r.Corrected = make(map[string]float64)
	}
	r.Corrected[method] = p
}

// PValue returns the p-value for method. An empty method or "uncorrected"
// returns the raw value.
func (r *Record) PValue(method string) (float64, bool) {
	if method == "" || method == Uncorrected {
		return r.PUncorrected, true
	}
	p, ok := r.Corrected[method]
	return p, ok
}

// Significant reports whether the p-value for method is below alpha.
// A missing method is never significant.
func (r *Record) Significant(method string, alpha float64) bool {
	p, ok := r.PValue(method)
	return ok && p < alpha
}

func enrichment(studyCount, studyN, popCount, popN int) string {
	// k/n > K/N without division
	if studyN > 0 && popN > 0 && studyCount*popN > popCount*studyN {
		return Enriched
	}
	return Purified
}

// SortByPValue orders records by ascending p-value for method, breaking ties
// by product id. Records without the method sort last.
func SortByPValue(records []*Record, method string) {
	sort.SliceStable(records, func(i, j int) bool {
		pi, oki := records[i].PValue(method)
		pj, okj := records[j].PValue(method)
		if oki != okj {
			return oki
		}
		if pi != pj {
			return pi < pj
		}
		return records[i].ProductID < records[j].ProductID
	})
}

// Intersect returns the products present in every list, mapped to their
// records in list order. It is used to compare studies run on different
// annotation sources, e.g. a species and its ortholog translation.
func Intersect(lists ...[]*Record) map[string][]*Record {
	out := make(map[string][]*Record)
	if len(lists) == 0 {
		return out
	}

	byProduct := make([]map[string]*Record, len(lists))
	for i, list := range lists {
		m := make(map[string]*Record, len(list))
		for _, r := range list {
			if _, seen := m[r.ProductID]; !seen {
				m[r.ProductID] = r
			}
		}
		byProduct[i] = m
	}

	for productID := range byProduct[0] {
		matched := make([]*Record, 0, len(lists))
		for _, m := range byProduct {
			r, ok := m[productID]
			if !ok {
				break
			}
			matched = append(matched, r)
		}
		if len(matched) == len(lists) {
			out[productID] = matched
		}
	}
	return out
}
