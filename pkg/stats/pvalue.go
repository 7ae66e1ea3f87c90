// Package stats provides the p-value strategies and multiple-testing
// corrections used by the reverse lookup engine. Both are looked up by name
// through small registries so that analyses can be configured from YAML or
// flags.
package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/combin"
	"gonum.org/v1/gonum/stat/distuv"

	errs "github.com/rmax-ai/revonto/pkg/errors"
)

// Default strategy names.
const (
	Fisher   = "fisher"
	Binomial = "binomial"
)

// PValueCalculator scores one contingency table.
//
// studyCount is the number of study items that hit the product, studyN the
// size of the study set, popCount the number of population items that hit the
// product and popN the size of the population.
type PValueCalculator interface {
	Name() string
	PValue(studyCount, studyN, popCount, popN int) (float64, error)
}

// PValueFactory builds a calculator.
type PValueFactory func() PValueCalculator

var (
	pvalueMu       sync.RWMutex
	pvalueRegistry = map[string]PValueFactory{}
)

func init() {
	fisher := func() PValueCalculator { return FisherExact{} }
	RegisterPValue(Fisher, fisher)
	RegisterPValue("fisher_scipy_stats", fisher)
	RegisterPValue("hypergeometric", fisher)
	RegisterPValue(Binomial, func() PValueCalculator { return BinomialApprox{} })
}

// RegisterPValue makes a calculator available under name. Registering the
// same name twice replaces the previous factory.
func RegisterPValue(name string, factory PValueFactory) {
	pvalueMu.Lock()
	defer pvalueMu.Unlock()
	pvalueRegistry[normalize(name)] = factory
}

// NewPValueCalculator returns the calculator registered under name.
func NewPValueCalculator(name string) (PValueCalculator, error) {
	pvalueMu.RLock()
	factory, ok := pvalueRegistry[normalize(name)]
	pvalueMu.RUnlock()
	if !ok {
		return nil, errs.WrapConfiguration(
			fmt.Errorf("%w: p-value %q (known: %s)", errs.ErrUnknownMethod, name, strings.Join(PValueNames(), ", ")),
			"stats", "NewPValueCalculator", "lookup")
	}
	return factory(), nil
}

// PValueNames lists every registered calculator name, aliases included.
func PValueNames() []string {
	pvalueMu.RLock()
	defer pvalueMu.RUnlock()
	names := make([]string, 0, len(pvalueRegistry))
	for n := range pvalueRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FisherExact is the one-sided (over-representation) Fisher exact test,
// i.e. the upper tail of the hypergeometric distribution.
type FisherExact struct{}

// Name implements PValueCalculator.
func (FisherExact) Name() string { return Fisher }

// PValue returns P(X >= studyCount) for X ~ Hypergeometric(popN, popCount, studyN).
func (FisherExact) PValue(studyCount, studyN, popCount, popN int) (float64, error) {
	if err := checkCounts("FisherExact", studyCount, studyN, popCount, popN); err != nil {
		return 0, err
	}

	// Query terms outside the population still count toward study_n. A draw
	// of more than popN terms takes the whole population, so it is capped.
	if studyN > popN {
		studyN = popN
	}

	// Support of X is [max(0, n-(N-K)), min(n, K)].
	lo := studyN - (popN - popCount)
	if lo < 0 {
		lo = 0
	}
	hi := studyN
	if popCount < hi {
		hi = popCount
	}
	if studyCount <= lo {
		return 1, nil
	}
	if studyCount > hi {
		return 0, nil
	}

	N, K, n := float64(popN), float64(popCount), float64(studyN)
	logTotal := combin.LogGeneralizedBinomial(N, n)

	terms := make([]float64, 0, hi-studyCount+1)
	for i := studyCount; i <= hi; i++ {
		x := float64(i)
		terms = append(terms, combin.LogGeneralizedBinomial(K, x)+combin.LogGeneralizedBinomial(N-K, n-x)-logTotal)
	}
	return clamp(math.Exp(floats.LogSumExp(terms))), nil
}

// BinomialApprox approximates sampling without replacement by sampling with
// replacement: P(X >= studyCount) for X ~ Binomial(studyN, popCount/popN).
type BinomialApprox struct{}

// Name implements PValueCalculator.
func (BinomialApprox) Name() string { return Binomial }

// PValue implements PValueCalculator.
func (BinomialApprox) PValue(studyCount, studyN, popCount, popN int) (float64, error) {
	if err := checkCounts("BinomialApprox", studyCount, studyN, popCount, popN); err != nil {
		return 0, err
	}
	if studyCount == 0 {
		return 1, nil
	}
	p := float64(popCount) / float64(popN)
	switch p {
	case 0:
		return 0, nil
	case 1:
		return 1, nil
	}

	dist := distuv.Binomial{N: float64(studyN), P: p}
	return clamp(dist.Survival(float64(studyCount - 1))), nil
}

func checkCounts(method string, studyCount, studyN, popCount, popN int) error {
	if popN <= 0 {
		return errs.WrapConfiguration(errs.ErrEmptyPopulation, "stats", method, "count validation")
	}
	switch {
	case studyCount < 0, studyN < 0, popCount < 0:
		return invalidCounts(method, "negative count", studyCount, studyN, popCount, popN)
	case studyCount > studyN:
		return invalidCounts(method, "study_count > study_n", studyCount, studyN, popCount, popN)
	case popCount > popN:
		return invalidCounts(method, "pop_count > pop_n", studyCount, studyN, popCount, popN)
	case studyCount > popCount:
		return invalidCounts(method, "study_count > pop_count", studyCount, studyN, popCount, popN)
	}
	return nil
}

func invalidCounts(method, reason string, studyCount, studyN, popCount, popN int) error {
	return errs.WrapDataShape(
		fmt.Errorf("%w: %s (study %d/%d, population %d/%d)", errs.ErrInvalidCounts, reason, studyCount, studyN, popCount, popN),
		"stats", method, "count validation")
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 1
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
