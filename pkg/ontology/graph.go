// Package ontology holds the in-memory GO term DAG and answers ancestor
// queries over it.
package ontology

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"

	errs "github.com/rmax-ai/revonto/pkg/errors"
)

// ErrUnknownTerm is returned when an ancestor query names a term that is not
// part of the graph.
var ErrUnknownTerm = errors.New("term not in graph")

// Graph is an immutable term DAG. Edges run from child to parent so that a
// forward traversal from a term enumerates its ancestors.
type Graph struct {
	terms map[string]*Term
	nodes map[string]int64
	ids   []string
	dag   *simple.DirectedGraph

	selfLoops map[int64]bool
	cycleOnce sync.Once
	cyclic    map[int64]bool

	mu        sync.RWMutex
	ancestors map[string][]string
}

// NewGraph builds a graph from terms. Every parent must itself be one of the
// supplied terms.
func NewGraph(terms []Term) (*Graph, error) {
	g := &Graph{
		terms:     make(map[string]*Term, len(terms)),
		nodes:     make(map[string]int64, len(terms)),
		ids:       make([]string, 0, len(terms)),
		dag:       simple.NewDirectedGraph(),
		selfLoops: make(map[int64]bool),
		ancestors: make(map[string][]string),
	}

	for i := range terms {
		t := terms[i]
		if t.ID == "" {
			return nil, errs.WrapDataShape(fmt.Errorf("%w: term at position %d has no id", errs.ErrMalformedRecord, i), "ontology", "NewGraph", "term registration")
		}
		if _, exists := g.terms[t.ID]; exists {
			return nil, errs.WrapStructural(fmt.Errorf("%w: %s", errs.ErrDuplicateTerm, t.ID), "ontology", "NewGraph", "term registration")
		}
		t.Parents = uniqueStrings(t.Parents)

		id := int64(len(g.ids))
		g.ids = append(g.ids, t.ID)
		g.nodes[t.ID] = id
		g.terms[t.ID] = &t
		g.dag.AddNode(simple.Node(id))
	}

	for _, termID := range g.ids {
		from := g.nodes[termID]
		for _, parent := range g.terms[termID].Parents {
			to, ok := g.nodes[parent]
			if !ok {
				return nil, errs.WrapStructural(fmt.Errorf("%w: %s -> %s", errs.ErrDanglingParent, termID, parent), "ontology", "NewGraph", "edge resolution")
			}
			if to == from {
				// simple graphs reject self edges; remember the loop instead.
				g.selfLoops[from] = true
				continue
			}
			g.dag.SetEdge(g.dag.NewEdge(simple.Node(from), simple.Node(to)))
		}
	}

	return g, nil
}

// Has reports whether id is a term of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Term returns a copy of the term with the given id.
func (g *Graph) Term(id string) (Term, bool) {
	t, ok := g.terms[id]
	if !ok {
		return Term{}, false
	}
	out := *t
	out.Parents = append([]string(nil), t.Parents...)
	return out, true
}

// Parents returns the direct parents of id.
func (g *Graph) Parents(id string) []string {
	t, ok := g.terms[id]
	if !ok {
		return nil
	}
	return append([]string(nil), t.Parents...)
}

// Len returns the number of terms.
func (g *Graph) Len() int {
	return len(g.ids)
}

// IDs returns all term ids in sorted order.
func (g *Graph) IDs() []string {
	out := append([]string(nil), g.ids...)
	sort.Strings(out)
	return out
}

// GetAllParents returns the transitive closure of ancestors of id, sorted and
// without id itself. The walk fails with a structural error as soon as it
// reaches a term that participates in a cycle.
func (g *Graph) GetAllParents(id string) ([]string, error) {
	g.mu.RLock()
	cached, ok := g.ancestors[id]
	g.mu.RUnlock()
	if ok {
		return append([]string(nil), cached...), nil
	}

	start, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("ontology: %w: %s", ErrUnknownTerm, id)
	}

	g.cycleOnce.Do(g.markCycles)

	var found []string
	walker := traverse.BreadthFirst{
		Visit: func(n graph.Node) {
			if n.ID() != start {
				found = append(found, g.ids[n.ID()])
			}
		},
	}
	hit := walker.Walk(g.dag, simple.Node(start), func(n graph.Node, _ int) bool {
		return g.cyclic[n.ID()]
	})
	if hit != nil {
		return nil, errs.WrapStructural(fmt.Errorf("%w: reached from %s at %s", errs.ErrCycle, id, g.ids[hit.ID()]), "ontology", "GetAllParents", "ancestor walk")
	}

	sort.Strings(found)

	g.mu.Lock()
	g.ancestors[id] = found
	g.mu.Unlock()

	return append([]string(nil), found...), nil
}

// Validate checks the whole graph for cycles and reports the first one found.
func (g *Graph) Validate() error {
	g.cycleOnce.Do(g.markCycles)
	if len(g.cyclic) == 0 {
		return nil
	}
	var members []string
	for id := range g.cyclic {
		members = append(members, g.ids[id])
	}
	sort.Strings(members)
	return errs.WrapStructural(fmt.Errorf("%w: %v", errs.ErrCycle, members), "ontology", "Validate", "cycle check")
}

// markCycles records every node that belongs to a strongly connected
// component of more than one node, plus self loops.
func (g *Graph) markCycles() {
	g.cyclic = make(map[int64]bool, len(g.selfLoops))
	for id := range g.selfLoops {
		g.cyclic[id] = true
	}
	for _, component := range topo.TarjanSCC(g.dag) {
		if len(component) < 2 {
			continue
		}
		for _, n := range component {
			g.cyclic[n.ID()] = true
		}
	}
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
