package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_PValue(t *testing.T) {
	r := &Record{ProductID: "P1", PUncorrected: 0.01}

	p, ok := r.PValue("")
	assert.True(t, ok)
	assert.Equal(t, 0.01, p)

	p, ok = r.PValue(Uncorrected)
	assert.True(t, ok)
	assert.Equal(t, 0.01, p)

	_, ok = r.PValue("bonferroni")
	assert.False(t, ok)
	assert.False(t, r.Significant("bonferroni", 0.05))

	r.SetCorrected("bonferroni", 0.04)
	p, ok = r.PValue("bonferroni")
	assert.True(t, ok)
	assert.Equal(t, 0.04, p)
	assert.True(t, r.Significant("bonferroni", 0.05))
	assert.False(t, r.Significant("bonferroni", 0.04))
}

func TestEnrichment(t *testing.T) {
	assert.Equal(t, Enriched, enrichment(2, 3, 1, 10))
	assert.Equal(t, Purified, enrichment(1, 10, 1, 10))
	assert.Equal(t, Purified, enrichment(0, 0, 1, 10))
}

func TestSortByPValue(t *testing.T) {
	records := []*Record{
		{ProductID: "C", PUncorrected: 0.2},
		{ProductID: "B", PUncorrected: 0.01},
		{ProductID: "A", PUncorrected: 0.2},
		{ProductID: "D", PUncorrected: 0.001},
	}
	records[0].SetCorrected("fdr_bh", 0.3)
	records[1].SetCorrected("fdr_bh", 0.02)
	records[2].SetCorrected("fdr_bh", 0.3)

	SortByPValue(records, "")
	assert.Equal(t, []string{"D", "B", "A", "C"}, productIDs(records))

	SortByPValue(records, "fdr_bh")
	assert.Equal(t, []string{"B", "A", "C", "D"}, productIDs(records), "missing method sorts last")
}

func TestIntersect(t *testing.T) {
	a := []*Record{{ProductID: "P1"}, {ProductID: "P2"}, {ProductID: "P3"}}
	b := []*Record{{ProductID: "P3"}, {ProductID: "P1"}}
	c := []*Record{{ProductID: "P1"}, {ProductID: "P3"}, {ProductID: "P4"}}

	got := Intersect(a, b, c)
	require.Len(t, got, 2)
	require.Len(t, got["P1"], 3)
	assert.Same(t, a[0], got["P1"][0])
	assert.Same(t, b[1], got["P1"][1])
	assert.Same(t, c[0], got["P1"][2])
	assert.Contains(t, got, "P3")

	assert.Empty(t, Intersect())
	assert.Empty(t, Intersect(a, nil))
	assert.Len(t, Intersect(a), 3)
}

func productIDs(records []*Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ProductID
	}
	return out
}
