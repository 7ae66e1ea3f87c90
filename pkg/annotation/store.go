package annotation

import (
	"fmt"
	"sort"
	"sync"

	errs "github.com/rmax-ai/revonto/pkg/errors"
	"github.com/rmax-ai/revonto/pkg/ontology"
)

// Store is a term-keyed multi-map of annotations. Every annotation stored
// under key K has TermID == K, and inserting an annotation whose Key is
// already present is a no-op.
//
// Store is safe for concurrent reads. Mutations (Add, Propagate, RestrictTo,
// AppendTaxonToProductID) must not overlap with study runs.
type Store struct {
	// Version and Date come from the source file header, when there is one.
	Version string
	Date    string

	mu     sync.RWMutex
	byTerm map[string]map[string]*Annotation
	size   int

	// byProduct is rebuilt lazily after any mutation and never mutated in
	// place once published.
	byProduct map[string]map[string]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byTerm: make(map[string]map[string]*Annotation)}
}

// Add inserts a under its own term id. It reports whether the store changed.
func (s *Store) Add(a Annotation) (bool, error) {
	return s.Insert(a.TermID, a)
}

// Insert inserts a under termID. The store is left unchanged when the
// annotation has no identity or does not belong under termID.
func (s *Store) Insert(termID string, a Annotation) (bool, error) {
	if a.ProductID == "" || a.TermID == "" {
		return false, errs.WrapDataShape(fmt.Errorf("%w: product=%q term=%q", errs.ErrMissingIdentity, a.ProductID, a.TermID), "annotation", "Insert", "identity check")
	}
	if a.TermID != termID {
		return false, errs.WrapDataShape(fmt.Errorf("%w: %s stored under %s", errs.ErrTermMismatch, a.TermID, termID), "annotation", "Insert", "key check")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(a.Clone()), nil
}

// insertLocked stores a, which must already be a private copy.
func (s *Store) insertLocked(a Annotation) bool {
	products, ok := s.byTerm[a.TermID]
	if !ok {
		products = make(map[string]*Annotation)
		s.byTerm[a.TermID] = products
	}
	if _, exists := products[a.ProductID]; exists {
		return false
	}
	products[a.ProductID] = &a
	s.size++
	s.byProduct = nil
	return true
}

// Len returns the number of annotations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// TermCount returns the number of distinct annotated terms, the population
// universe of a study.
func (s *Store) TermCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTerm)
}

// ProductCount returns the number of distinct annotated products.
func (s *Store) ProductCount() int {
	return len(s.index())
}

// Contains reports whether an annotation with key k is stored.
func (s *Store) Contains(k Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byTerm[k.TermID][k.ProductID]
	return ok
}

// Get returns a copy of the annotation stored under k.
func (s *Store) Get(k Key) (Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byTerm[k.TermID][k.ProductID]
	if !ok {
		return Annotation{}, false
	}
	return a.Clone(), true
}

// HasTerm reports whether at least one annotation exists for termID.
func (s *Store) HasTerm(termID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byTerm[termID]
	return ok
}

// Terms returns the annotated term ids in sorted order.
func (s *Store) Terms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.byTerm)
}

// Products returns the annotated product ids in sorted order.
func (s *Store) Products() []string {
	return sortedKeys(s.index())
}

// ProductsFor returns the products annotated to termID, sorted.
func (s *Store) ProductsFor(termID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.byTerm[termID])
}

// TermsFor returns every term annotated to productID, sorted.
func (s *Store) TermsFor(productID string) []string {
	return sortedKeys(s.index()[productID])
}

// TermCountFor returns the number of distinct terms annotated to productID.
func (s *Store) TermCountFor(productID string) int {
	return len(s.index()[productID])
}

// ByTerm returns copies of the annotations stored under termID, ordered by
// product id.
func (s *Store) ByTerm(termID string) []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(termID)
}

// ByProduct returns copies of the annotations of productID, ordered by term
// id.
func (s *Store) ByProduct(productID string) []Annotation {
	terms := s.TermsFor(productID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Annotation, 0, len(terms))
	for _, termID := range terms {
		if a, ok := s.byTerm[termID][productID]; ok {
			out = append(out, a.Clone())
		}
	}
	return out
}

// GroupByTerm returns every annotation grouped by term id.
func (s *Store) GroupByTerm() map[string][]Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Annotation, len(s.byTerm))
	for termID := range s.byTerm {
		out[termID] = s.collectLocked(termID)
	}
	return out
}

// GroupByProduct returns every annotation grouped by product id.
func (s *Store) GroupByProduct() map[string][]Annotation {
	idx := s.index()
	out := make(map[string][]Annotation, len(idx))
	for productID := range idx {
		out[productID] = s.ByProduct(productID)
	}
	return out
}

// Annotations returns a copy of every annotation, ordered by term then
// product.
func (s *Store) Annotations() []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Annotation, 0, s.size)
	for _, termID := range sortedKeys(s.byTerm) {
		out = append(out, s.collectLocked(termID)...)
	}
	return out
}

// Propagate copies every annotation of a term to each of the term's
// ancestors. The set of terms is frozen before any insertion, and clones are
// committed only after every ancestor lookup succeeded, so a graph error
// leaves the store untouched. Terms unknown to the graph are skipped.
// It returns the number of annotations added.
func (s *Store) Propagate(g ontology.Ancestry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var staged []Annotation
	for _, termID := range sortedKeys(s.byTerm) {
		if !g.Has(termID) {
			continue
		}
		ancestors, err := g.GetAllParents(termID)
		if err != nil {
			return 0, fmt.Errorf("annotation: propagate %s: %w", termID, err)
		}
		if len(ancestors) == 0 {
			continue
		}
		source := s.collectLocked(termID)
		for _, parent := range ancestors {
			for _, a := range source {
				clone := a.Clone()
				clone.TermID = parent
				staged = append(staged, clone)
			}
		}
	}

	added := 0
	for _, a := range staged {
		if s.insertLocked(a) {
			added++
		}
	}
	return added, nil
}

// Merge returns a new store holding the union of s and other. Neither input
// is modified. When both hold the same key, the annotation from s is kept.
func (s *Store) Merge(other *Store) *Store {
	out := s.Clone()
	if other == nil || other == s {
		return out
	}
	for _, a := range other.Annotations() {
		out.insertLocked(a)
	}
	return out
}

// Clone returns a deep copy of s.
func (s *Store) Clone() *Store {
	out := NewStore()
	s.mu.RLock()
	out.Version = s.Version
	out.Date = s.Date
	s.mu.RUnlock()
	for _, a := range s.Annotations() {
		out.insertLocked(a)
	}
	return out
}

// RestrictTo drops every annotation whose term is not part of terms and
// returns the number of annotations removed.
func (s *Store) RestrictTo(terms ontology.TermSet) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for termID, products := range s.byTerm {
		if terms.Has(termID) {
			continue
		}
		removed += len(products)
		delete(s.byTerm, termID)
	}
	if removed > 0 {
		s.size -= removed
		s.byProduct = nil
	}
	return removed
}

// AppendTaxonToProductID rewrites product ids to "<product>-<taxon id>" for
// every annotation that carries a taxon, e.g. "UniProtKB:P1-9606". This keeps gene-symbol based ids
// unique across species. Annotations that collide after the rewrite are
// merged under set semantics.
func (s *Store) AppendTaxonToProductID() {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]Annotation, 0, s.size)
	for _, termID := range sortedKeys(s.byTerm) {
		all = append(all, s.collectLocked(termID)...)
	}

	s.byTerm = make(map[string]map[string]*Annotation)
	s.size = 0
	s.byProduct = nil
	for _, a := range all {
		if id := TaxonID(a.Taxon); id != "" {
			a.ProductID = a.ProductID + "-" + id
		}
		s.insertLocked(a)
	}
}

// Equal reports whether s and other hold the same annotation keys.
func (s *Store) Equal(other *Store) bool {
	if other == nil {
		return false
	}
	if s == other {
		return true
	}
	if s.Len() != other.Len() {
		return false
	}
	for _, a := range s.Annotations() {
		if !other.Contains(a.Key()) {
			return false
		}
	}
	return true
}

func (s *Store) collectLocked(termID string) []Annotation {
	products := s.byTerm[termID]
	out := make([]Annotation, 0, len(products))
	for _, productID := range sortedKeys(products) {
		out = append(out, products[productID].Clone())
	}
	return out
}

// index returns the product -> terms index, building it once per mutation
// generation.
func (s *Store) index() map[string]map[string]struct{} {
	s.mu.RLock()
	idx := s.byProduct
	s.mu.RUnlock()
	if idx != nil {
		return idx
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byProduct == nil {
		built := make(map[string]map[string]struct{})
		for termID, products := range s.byTerm {
			for productID := range products {
				terms, ok := built[productID]
				if !ok {
					terms = make(map[string]struct{})
					built[productID] = terms
				}
				terms[termID] = struct{}{}
			}
		}
		s.byProduct = built
	}
	return s.byProduct
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
