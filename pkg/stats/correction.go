package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/floats"

	errs "github.com/rmax-ai/revonto/pkg/errors"
)

// Correction method names.
const (
	Bonferroni = "bonferroni"
	Holm       = "holm"
	FDRBH      = "fdr_bh"
)

// Correction adjusts a vector of p-values for multiple testing. The output
// has the same length and order as the input, and every value is clamped
// to at most 1.
type Correction interface {
	Name() string
	Correct(pvals []float64, alpha float64) ([]float64, error)
}

// CorrectionFactory builds a correction.
type CorrectionFactory func() Correction

var (
	correctionMu       sync.RWMutex
	correctionRegistry = map[string]CorrectionFactory{}
)

func init() {
	RegisterCorrection(Bonferroni, func() Correction { return BonferroniCorrection{} })
	RegisterCorrection(Holm, func() Correction { return HolmCorrection{} })
	bh := func() Correction { return BenjaminiHochberg{} }
	RegisterCorrection(FDRBH, bh)
	RegisterCorrection("fdr", bh)
}

// RegisterCorrection makes a correction available under name.
func RegisterCorrection(name string, factory CorrectionFactory) {
	correctionMu.Lock()
	defer correctionMu.Unlock()
	correctionRegistry[normalize(name)] = factory
}

// NewCorrection returns the correction registered under name.
func NewCorrection(name string) (Correction, error) {
	correctionMu.RLock()
	factory, ok := correctionRegistry[normalize(name)]
	correctionMu.RUnlock()
	if !ok {
		return nil, errs.WrapConfiguration(
			fmt.Errorf("%w: correction %q (known: %s)", errs.ErrUnknownMethod, name, strings.Join(CorrectionNames(), ", ")),
			"stats", "NewCorrection", "lookup")
	}
	return factory(), nil
}

// NewCorrections resolves every name, failing on the first unknown one.
func NewCorrections(names []string) ([]Correction, error) {
	out := make([]Correction, 0, len(names))
	for _, n := range names {
		c, err := NewCorrection(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// CanonicalCorrections maps each name, aliases and case variants included,
// to the name its correction records values under.
func CanonicalCorrections(names []string) ([]string, error) {
	cs, err := NewCorrections(names)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name()
	}
	return out, nil
}

// CorrectionNames lists every registered correction name, aliases included.
func CorrectionNames() []string {
	correctionMu.RLock()
	defer correctionMu.RUnlock()
	names := make([]string, 0, len(correctionRegistry))
	for n := range correctionRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ValidateAlpha checks that alpha lies in the open interval (0, 1).
func ValidateAlpha(alpha float64) error {
	if math.IsNaN(alpha) || alpha <= 0 || alpha >= 1 {
		return errs.WrapConfiguration(fmt.Errorf("%w: got %v", errs.ErrInvalidAlpha, alpha), "stats", "ValidateAlpha", "range check")
	}
	return nil
}

// BonferroniCorrection multiplies every p-value by the number of tests.
type BonferroniCorrection struct{}

// Name implements Correction.
func (BonferroniCorrection) Name() string { return Bonferroni }

// Correct implements Correction.
func (BonferroniCorrection) Correct(pvals []float64, alpha float64) ([]float64, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return nil, err
	}
	n := float64(len(pvals))
	out := make([]float64, len(pvals))
	for i, p := range pvals {
		out[i] = math.Min(1, p*n)
	}
	return out, nil
}

// HolmCorrection is the Holm-Bonferroni step-down procedure.
type HolmCorrection struct{}

// Name implements Correction.
func (HolmCorrection) Name() string { return Holm }

// Correct implements Correction.
func (HolmCorrection) Correct(pvals []float64, alpha float64) ([]float64, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return nil, err
	}
	sorted, order := argsort(pvals)
	n := len(pvals)
	out := make([]float64, n)

	running := 0.0
	for rank, p := range sorted {
		adj := math.Min(1, float64(n-rank)*p)
		if adj > running {
			running = adj
		}
		out[order[rank]] = running
	}
	return out, nil
}

// BenjaminiHochberg computes false discovery rate q-values:
// q_(i) = min over j >= i of (n/j) * p_(j).
type BenjaminiHochberg struct{}

// Name implements Correction.
func (BenjaminiHochberg) Name() string { return FDRBH }

// Correct implements Correction.
func (BenjaminiHochberg) Correct(pvals []float64, alpha float64) ([]float64, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return nil, err
	}
	sorted, order := argsort(pvals)
	n := len(pvals)
	out := make([]float64, n)

	running := 1.0
	for rank := n - 1; rank >= 0; rank-- {
		q := float64(n) / float64(rank+1) * sorted[rank]
		if q < running {
			running = q
		}
		out[order[rank]] = running
	}
	return out, nil
}

// Reject returns a mask marking every p-value below alpha.
func Reject(pvals []float64, alpha float64) []bool {
	out := make([]bool, len(pvals))
	for i, p := range pvals {
		out[i] = p < alpha
	}
	return out
}

// BHReject applies the Benjamini-Hochberg step-up rule to raw p-values:
// with k the largest rank such that p_(k) <= k*alpha/n, the k smallest
// p-values are rejected.
func BHReject(pvals []float64, alpha float64) []bool {
	sorted, order := argsort(pvals)
	n := float64(len(pvals))

	cutoff := -1
	for rank, p := range sorted {
		if p <= float64(rank+1)*alpha/n {
			cutoff = rank
		}
	}

	out := make([]bool, len(pvals))
	for rank := 0; rank <= cutoff; rank++ {
		out[order[rank]] = true
	}
	return out
}

// argsort sorts a copy of pvals and returns it with the original index of
// each sorted element. NaN inputs are treated as 1.
func argsort(pvals []float64) ([]float64, []int) {
	sorted := make([]float64, len(pvals))
	for i, p := range pvals {
		if math.IsNaN(p) {
			p = 1
		}
		sorted[i] = p
	}
	order := make([]int, len(sorted))
	floats.Argsort(sorted, order)
	return sorted, order
}
