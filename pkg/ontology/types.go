package ontology

// Term is a single ontology node with its direct is_a parents.
type Term struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
	Parents   []string `json:"parents,omitempty"`
	Obsolete  bool     `json:"obsolete,omitempty"`
}

// TermSet answers membership queries against an ontology.
type TermSet interface {
	Has(id string) bool
}

// Ancestry is the read-only view the annotation store needs to propagate
// annotations upward.
type Ancestry interface {
	TermSet
	GetAllParents(id string) ([]string, error)
}

// Header carries the version information of a loaded ontology file.
type Header struct {
	FormatVersion string `json:"format_version,omitempty"`
	DataVersion   string `json:"data_version,omitempty"`
	Date          string `json:"date,omitempty"`
}
