package ontology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/rmax-ai/revonto/pkg/errors"
)

// diamond:
//
//	root
//	/  \
//	a   b
//	 \ /
//	  c
//	  |
//	  d
func diamond(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph([]Term{
		{ID: "root"},
		{ID: "a", Parents: []string{"root"}},
		{ID: "b", Parents: []string{"root"}},
		{ID: "c", Parents: []string{"a", "b"}},
		{ID: "d", Parents: []string{"c"}},
	})
	require.NoError(t, err)
	return g
}

func TestGetAllParents(t *testing.T) {
	g := diamond(t)

	tests := []struct {
		id       string
		expected []string
	}{
		{"root", nil},
		{"a", []string{"root"}},
		{"c", []string{"a", "b", "root"}},
		{"d", []string{"a", "b", "c", "root"}},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := g.GetAllParents(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestGetAllParents_NoDuplicatesAndMemoized(t *testing.T) {
	g := diamond(t)

	first, err := g.GetAllParents("d")
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, id := range first {
		assert.False(t, seen[id], "duplicate ancestor %s", id)
		seen[id] = true
	}
	assert.NotContains(t, first, "d")

	// Mutating the returned slice must not leak into the cache.
	first[0] = "mutated"
	second, err := g.GetAllParents("d")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "root"}, second)
}

func TestGetAllParents_UnknownTerm(t *testing.T) {
	g := diamond(t)
	_, err := g.GetAllParents("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTerm))
}

func TestGetAllParents_CycleFailsFast(t *testing.T) {
	g, err := NewGraph([]Term{
		{ID: "x", Parents: []string{"y"}},
		{ID: "y", Parents: []string{"z"}},
		{ID: "z", Parents: []string{"x"}},
		{ID: "leaf", Parents: []string{"x"}},
		{ID: "clean"},
	})
	require.NoError(t, err)

	for _, id := range []string{"x", "leaf"} {
		_, err := g.GetAllParents(id)
		require.Error(t, err, id)
		assert.True(t, errs.IsStructural(err), "expected structural error for %s, got %v", id, err)
		assert.True(t, errors.Is(err, errs.ErrCycle))
	}

	parents, err := g.GetAllParents("clean")
	require.NoError(t, err)
	assert.Empty(t, parents)

	assert.True(t, errs.IsStructural(g.Validate()))
}

func TestGetAllParents_SelfLoop(t *testing.T) {
	g, err := NewGraph([]Term{{ID: "loop", Parents: []string{"loop"}}})
	require.NoError(t, err)

	_, err = g.GetAllParents("loop")
	assert.True(t, errors.Is(err, errs.ErrCycle))
}

func TestNewGraph_DanglingParent(t *testing.T) {
	_, err := NewGraph([]Term{{ID: "a", Parents: []string{"ghost"}}})
	require.Error(t, err)
	assert.True(t, errs.IsStructural(err))
	assert.True(t, errors.Is(err, errs.ErrDanglingParent))
}

func TestNewGraph_DuplicateTerm(t *testing.T) {
	_, err := NewGraph([]Term{{ID: "a"}, {ID: "a"}})
	assert.True(t, errors.Is(err, errs.ErrDuplicateTerm))
}

func TestGraphAccessors(t *testing.T) {
	g := diamond(t)

	assert.Equal(t, 5, g.Len())
	assert.True(t, g.Has("c"))
	assert.False(t, g.Has("z"))
	assert.Equal(t, []string{"a", "b", "c", "d", "root"}, g.IDs())
	assert.Equal(t, []string{"a", "b"}, g.Parents("c"))
	assert.NoError(t, g.Validate())

	term, ok := g.Term("c")
	require.True(t, ok)
	term.Parents[0] = "changed"
	assert.Equal(t, []string{"a", "b"}, g.Parents("c"))
}
