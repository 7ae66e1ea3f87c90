package stats

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/rmax-ai/revonto/pkg/errors"
)

func TestNewPValueCalculator(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"fisher", Fisher},
		{"fisher_scipy_stats", Fisher},
		{"Hypergeometric", Fisher},
		{" binomial ", Binomial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc, err := NewPValueCalculator(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, calc.Name())
		})
	}

	_, err := NewPValueCalculator("chi2")
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
	assert.True(t, errors.Is(err, errs.ErrUnknownMethod))
}

func TestFisherExact(t *testing.T) {
	f := FisherExact{}

	tests := []struct {
		name                              string
		studyCount, studyN, popCount, popN int
		expected                          float64
	}{
		// [C(4,2)C(6,1) + C(4,3)C(6,0)] / C(10,3) = 40/120
		{"upper tail", 2, 3, 4, 10, 1.0 / 3.0},
		// C(4,3)/C(10,3)
		{"max hits", 3, 3, 4, 10, 4.0 / 120.0},
		{"zero hits", 0, 3, 4, 10, 1},
		{"forced overlap", 1, 2, 1, 2, 1},
		{"whole population", 2, 2, 2, 2, 1},
		// P(X >= 1) = 1 - C(9,3)/C(10,3) = 1 - 84/120
		{"single success", 1, 3, 1, 10, 36.0 / 120.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.PValue(tt.studyCount, tt.studyN, tt.popCount, tt.popN)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, p, 1e-12)
		})
	}
}

func TestBinomialApprox(t *testing.T) {
	b := BinomialApprox{}

	// X ~ Binomial(3, 0.4): P(X >= 2) = 3*0.16*0.6 + 0.064
	p, err := b.PValue(2, 3, 4, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.352, p, 1e-9)

	p, err = b.PValue(0, 3, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	p, err = b.PValue(1, 1, 0, 10)
	assert.Error(t, err, "study_count > pop_count")
	assert.Zero(t, p)
}

func TestPValue_DegenerateCounts(t *testing.T) {
	for _, calc := range []PValueCalculator{FisherExact{}, BinomialApprox{}} {
		t.Run(calc.Name(), func(t *testing.T) {
			_, err := calc.PValue(0, 0, 0, 0)
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
			assert.True(t, errors.Is(err, errs.ErrEmptyPopulation))

			bad := [][4]int{
				{-1, 1, 1, 2},
				{2, 1, 1, 2},
				{1, 1, 3, 2},
				{2, 2, 1, 3},
			}
			for _, c := range bad {
				p, err := calc.PValue(c[0], c[1], c[2], c[3])
				require.Error(t, err, "%v", c)
				assert.True(t, errs.IsDataShape(err))
				assert.False(t, math.IsNaN(p))
			}
		})
	}
}

func TestPValue_StudyLargerThanPopulation(t *testing.T) {
	// Drawing every population term hits every success.
	p, err := FisherExact{}.PValue(1, 5, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	p, err = FisherExact{}.PValue(0, 4, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	// X ~ Binomial(4, 0.5): P(X >= 3) = 5/16
	p, err = BinomialApprox{}.PValue(3, 4, 1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 5.0/16.0, p, 1e-9)
}

func TestPValue_Range(t *testing.T) {
	for _, calc := range []PValueCalculator{FisherExact{}, BinomialApprox{}} {
		for popN := 1; popN <= 12; popN++ {
			for popCount := 0; popCount <= popN; popCount++ {
				for studyN := 0; studyN <= popN; studyN++ {
					for k := 0; k <= studyN && k <= popCount; k++ {
						p, err := calc.PValue(k, studyN, popCount, popN)
						require.NoError(t, err)
						require.False(t, math.IsNaN(p))
						require.GreaterOrEqual(t, p, 0.0)
						require.LessOrEqual(t, p, 1.0)
					}
				}
			}
		}
	}
}

func TestBonferroni(t *testing.T) {
	pvals := []float64{0.01, 0.01, 0.03, 0.05, 0.005}

	got, err := BonferroniCorrection{}.Correct(pvals, 0.05)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.05, 0.05, 0.15, 0.25, 0.025}, got, 1e-12)

	for i := range pvals {
		assert.GreaterOrEqual(t, got[i], pvals[i])
	}

	clamped, err := BonferroniCorrection{}.Correct([]float64{0.5, 0.9}, 0.05)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, clamped)
}

func TestHolm(t *testing.T) {
	pvals := []float64{0.01, 0.04, 0.03, 0.005}

	got, err := HolmCorrection{}.Correct(pvals, 0.05)
	require.NoError(t, err)
	// sorted: 0.005*4=0.02, 0.01*3=0.03, 0.03*2=0.06, 0.04*1 -> max(0.06, 0.04)
	assert.InDeltaSlice(t, []float64{0.03, 0.06, 0.06, 0.02}, got, 1e-12)
}

func TestBenjaminiHochberg_ZipBack(t *testing.T) {
	pvals := []float64{0.04, 0.001, 0.03, 0.5, 0.01}

	got, err := BenjaminiHochberg{}.Correct(pvals, 0.05)
	require.NoError(t, err)
	// sorted: 0.001 (r1), 0.01 (r2), 0.03 (r3), 0.04 (r4), 0.5 (r5)
	// raw q: 0.005, 0.025, 0.05, 0.05, 0.5; suffix min leaves them unchanged
	assert.InDeltaSlice(t, []float64{0.05, 0.005, 0.05, 0.5, 0.025}, got, 1e-12)

	assert.Equal(t, []float64{0.04, 0.001, 0.03, 0.5, 0.01}, pvals, "input must not be reordered")
}

func TestBenjaminiHochberg_Monotone(t *testing.T) {
	pvals := []float64{0.02, 0.021, 0.9}

	got, err := BenjaminiHochberg{}.Correct(pvals, 0.05)
	require.NoError(t, err)
	// raw q: 0.06, 0.0315, 0.9 -> suffix min makes the first 0.0315
	assert.InDeltaSlice(t, []float64{0.0315, 0.0315, 0.9}, got, 1e-12)
}

func TestCorrection_EdgeCases(t *testing.T) {
	for _, name := range []string{Bonferroni, Holm, FDRBH, "fdr"} {
		t.Run(name, func(t *testing.T) {
			c, err := NewCorrection(name)
			require.NoError(t, err)

			out, err := c.Correct(nil, 0.05)
			require.NoError(t, err)
			assert.Empty(t, out)

			for _, alpha := range []float64{0, 1, -0.1, math.NaN()} {
				_, err := c.Correct([]float64{0.1}, alpha)
				assert.True(t, errs.IsConfiguration(err), "alpha %v", alpha)
			}
		})
	}

	_, err := NewCorrections([]string{Bonferroni, "sidak"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUnknownMethod))
}

func TestReject(t *testing.T) {
	assert.Equal(t, []bool{true, false, false}, Reject([]float64{0.01, 0.05, 0.2}, 0.05))
}

func TestBHReject(t *testing.T) {
	pvals := []float64{0.035, 0.001, 0.025, 0.5, 0.01}
	// thresholds k*0.05/5: 0.01, 0.02, 0.03, 0.04, 0.05 -> largest passing rank is 4
	assert.Equal(t, []bool{true, true, true, false, true}, BHReject(pvals, 0.05))

	q, err := BenjaminiHochberg{}.Correct(pvals, 0.05)
	require.NoError(t, err)
	for i, rejected := range BHReject(pvals, 0.05) {
		assert.Equal(t, rejected, q[i] <= 0.05, "index %d", i)
	}
}
