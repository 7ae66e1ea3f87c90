// Package engine runs reverse lookup studies: given a set of GO terms it
// scores every product annotated to at least one of them for
// over-representation against the whole annotation population.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rmax-ai/revonto/pkg/annotation"
	errs "github.com/rmax-ai/revonto/pkg/errors"
	"github.com/rmax-ai/revonto/pkg/ontology"
	"github.com/rmax-ai/revonto/pkg/stats"
)

// Defaults applied by New.
const (
	DefaultAlpha  = 0.05
	DefaultPValue = stats.Fisher
)

// DefaultMethods are the corrections attached when none are configured.
var DefaultMethods = []string{stats.Bonferroni}

// Engine holds an annotation store and term graph and runs studies over
// them. It never mutates either; callers finish propagation and merging
// before the first RunStudy.
type Engine struct {
	store   *annotation.Store
	graph   *ontology.Graph
	alpha   float64
	pvalue  stats.PValueCalculator
	methods []stats.Correction
	workers int
	logger  *slog.Logger
}

type options struct {
	alpha   float64
	pvalue  string
	methods []string
	workers int
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*options)

// WithAlpha sets the default significance threshold.
func WithAlpha(alpha float64) Option {
	return func(o *options) { o.alpha = alpha }
}

// WithPValue selects the p-value strategy by registry name.
func WithPValue(name string) Option {
	return func(o *options) { o.pvalue = name }
}

// WithMethods selects the default correction methods by registry name.
func WithMethods(names ...string) Option {
	return func(o *options) { o.methods = append([]string(nil), names...) }
}

// WithWorkers bounds the number of candidates scored concurrently.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds an engine. Unknown strategy or correction names and an alpha
// outside (0, 1) are configuration errors.
func New(store *annotation.Store, graph *ontology.Graph, opts ...Option) (*Engine, error) {
	o := options{
		alpha:   DefaultAlpha,
		pvalue:  DefaultPValue,
		methods: DefaultMethods,
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if store == nil || graph == nil {
		return nil, errs.WrapConfiguration(fmt.Errorf("%w: engine requires an annotation store and a term graph", errs.ErrInvalidConfig), "engine", "New", "validation")
	}
	if err := stats.ValidateAlpha(o.alpha); err != nil {
		return nil, err
	}
	calc, err := stats.NewPValueCalculator(o.pvalue)
	if err != nil {
		return nil, err
	}
	methods, err := stats.NewCorrections(o.methods)
	if err != nil {
		return nil, err
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Engine{
		store:   store,
		graph:   graph,
		alpha:   o.alpha,
		pvalue:  calc,
		methods: methods,
		workers: o.workers,
		logger:  o.logger,
	}, nil
}

// Alpha returns the default significance threshold.
func (e *Engine) Alpha() float64 { return e.alpha }

// PValueName returns the canonical name of the p-value strategy.
func (e *Engine) PValueName() string { return e.pvalue.Name() }

// Methods returns the canonical names of the default corrections.
func (e *Engine) Methods() []string { return correctionNames(e.methods) }

// Store returns the annotation store the engine reads from.
func (e *Engine) Store() *annotation.Store { return e.store }

// Graph returns the term graph.
func (e *Engine) Graph() *ontology.Graph { return e.graph }

// Population summarizes the statistical background.
type Population struct {
	Terms         int    `json:"terms"`
	Products      int    `json:"products"`
	Annotations   int    `json:"annotations"`
	OntologyTerms int    `json:"ontology_terms"`
	Version       string `json:"version,omitempty"`
	Date          string `json:"date,omitempty"`
}

// Population reports the size of the population a study is scored against.
func (e *Engine) Population() Population {
	return Population{
		Terms:         e.store.TermCount(),
		Products:      e.store.ProductCount(),
		Annotations:   e.store.Len(),
		OntologyTerms: e.graph.Len(),
		Version:       e.store.Version,
		Date:          e.store.Date,
	}
}

type studyConfig struct {
	alpha   float64
	methods []stats.Correction
	filter  func(*Record) bool
	err     error
}

// StudyOption overrides engine defaults for one study.
type StudyOption func(*studyConfig)

// StudyMethods replaces the correction methods for one study.
func StudyMethods(names ...string) StudyOption {
	return func(c *studyConfig) {
		methods, err := stats.NewCorrections(names)
		if err != nil {
			c.err = err
			return
		}
		c.methods = methods
	}
}

// StudyAlpha replaces the significance threshold for one study.
func StudyAlpha(alpha float64) StudyOption {
	return func(c *studyConfig) {
		if err := stats.ValidateAlpha(alpha); err != nil {
			c.err = err
			return
		}
		c.alpha = alpha
	}
}

// StudyFilter keeps only the records for which keep returns true. It runs
// after corrections are attached.
func StudyFilter(keep func(*Record) bool) StudyOption {
	return func(c *studyConfig) { c.filter = keep }
}

// RunStudy scores every product annotated to at least one query term.
//
// Candidates are scored in product id order and that order is kept through
// correction, so corrected values always line up with their records. An
// empty query, or one whose terms are all absent from the store, yields an
// empty result and no error.
func (e *Engine) RunStudy(ctx context.Context, query []string, opts ...StudyOption) ([]*Record, error) {
	cfg := studyConfig{alpha: e.alpha, methods: e.methods}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.err != nil {
		RevontoStudiesTotal.WithLabelValues("error").Inc()
		return nil, cfg.err
	}

	start := time.Now()
	records, err := e.runStudy(ctx, query, cfg)
	RevontoStudyDurationSeconds.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		RevontoStudiesTotal.WithLabelValues("error").Inc()
		e.logger.Error("study_failed", "terms", len(query), "error", err)
		return nil, err
	case len(records) == 0:
		RevontoStudiesTotal.WithLabelValues("empty").Inc()
	default:
		RevontoStudiesTotal.WithLabelValues("ok").Inc()
	}

	e.logger.Info("study_completed",
		"terms", len(query),
		"records", len(records),
		"pvalue", e.pvalue.Name(),
		"methods", correctionNames(cfg.methods),
		"duration", time.Since(start),
	)
	return records, nil
}

func (e *Engine) runStudy(ctx context.Context, query []string, cfg studyConfig) ([]*Record, error) {
	if len(query) == 0 {
		return []*Record{}, nil
	}

	unique := uniqueSorted(query)
	terms := make([]string, 0, len(unique))
	for _, t := range unique {
		if !e.store.HasTerm(t) {
			e.logger.Debug("query_term_not_in_population", "term", t)
			continue
		}
		terms = append(terms, t)
	}

	candidates := e.candidates(terms)
	RevontoStudyCandidates.Observe(float64(len(candidates)))
	if len(candidates) == 0 {
		return []*Record{}, nil
	}

	popN := e.store.TermCount()
	// Absent terms find no candidates but are still part of the study set.
	studyN := len(unique)

	records := make([]*Record, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, productID := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := e.score(productID, terms, studyN, popN)
			if err != nil {
				RevontoPValueErrorsTotal.Inc()
				return fmt.Errorf("engine: score %s: %w", productID, err)
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pvals := make([]float64, len(records))
	for i, r := range records {
		pvals[i] = r.PUncorrected
	}
	for _, c := range cfg.methods {
		corrected, err := c.Correct(pvals, cfg.alpha)
		if err != nil {
			return nil, fmt.Errorf("engine: correction %s: %w", c.Name(), err)
		}
		if len(corrected) != len(records) {
			return nil, fmt.Errorf("engine: correction %s returned %d values for %d records", c.Name(), len(corrected), len(records))
		}
		for i, r := range records {
			r.SetCorrected(c.Name(), corrected[i])
		}
	}

	if cfg.filter == nil {
		return records, nil
	}
	kept := make([]*Record, 0, len(records))
	for _, r := range records {
		if cfg.filter(r) {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// candidates returns the union of products annotated to terms, sorted.
func (e *Engine) candidates(terms []string) []string {
	seen := make(map[string]struct{})
	for _, t := range terms {
		for _, p := range e.store.ProductsFor(t) {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) score(productID string, terms []string, studyN, popN int) (*Record, error) {
	items := make([]string, 0, len(terms))
	for _, t := range terms {
		if e.store.Contains(annotation.Key{ProductID: productID, TermID: t}) {
			items = append(items, t)
		}
	}
	popCount := e.store.TermCountFor(productID)

	p, err := e.pvalue.PValue(len(items), studyN, popCount, popN)
	if err != nil {
		return nil, err
	}
	return &Record{
		ProductID:    productID,
		StudyItems:   items,
		StudyCount:   len(items),
		StudyN:       studyN,
		PopCount:     popCount,
		PopN:         popN,
		PUncorrected: p,
		Enrichment:   enrichment(len(items), studyN, popCount, popN),
	}, nil
}

func correctionNames(cs []stats.Correction) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name()
	}
	return out
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
