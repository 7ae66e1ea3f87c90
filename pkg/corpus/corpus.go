// Package corpus assembles the annotation population and term graph a
// study runs against from an analysis configuration.
package corpus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rmax-ai/revonto/pkg/annotation"
	"github.com/rmax-ai/revonto/pkg/config"
	"github.com/rmax-ai/revonto/pkg/engine"
	"github.com/rmax-ai/revonto/pkg/ontology"
	"github.com/rmax-ai/revonto/pkg/ortholog"
)

// Corpus is a prepared population ready for studies.
type Corpus struct {
	Store  *annotation.Store
	Graph  *ontology.Graph
	Header ontology.Header
	// Translated is true when products were mapped to another organism.
	Translated bool
}

// Load reads the ontology and annotation files named by cfg and prepares
// the store: merge, taxon suffixes, ortholog translation, restriction to the
// ontology, then propagation. resolver may be nil when translation is off.
func Load(ctx context.Context, cfg config.Config, resolver ortholog.Resolver, logger *slog.Logger) (*Corpus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var oboOpts []ontology.OBOOption
	if len(cfg.Relationships) > 0 {
		oboOpts = append(oboOpts, ontology.WithRelationships(cfg.Relationships...))
	}
	if cfg.IncludeObsolete {
		oboOpts = append(oboOpts, ontology.WithObsolete())
	}
	graph, header, err := ontology.LoadOBO(cfg.OBO, oboOpts...)
	if err != nil {
		return nil, err
	}
	logger.Info("ontology_loaded", "path", cfg.OBO, "terms", graph.Len(), "data_version", header.DataVersion)

	var store *annotation.Store
	for _, path := range cfg.GAF {
		s, err := annotation.LoadGAF(path)
		if err != nil {
			return nil, err
		}
		logger.Info("annotations_loaded", "path", path, "annotations", s.Len(), "products", s.ProductCount())
		if store == nil {
			store = s
		} else {
			store = store.Merge(s)
		}
	}

	if cfg.AppendTaxon {
		store.AppendTaxonToProductID()
	}

	translated := false
	if cfg.Ortholog.Enabled {
		store, translated = ortholog.Translate(ctx, resolver, store, cfg.Ortholog.Source, cfg.Ortholog.Target, logger)
	}

	if cfg.RestrictToOntology {
		removed := store.RestrictTo(graph)
		logger.Info("annotations_restricted", "removed", removed, "remaining", store.Len())
	}

	if cfg.Propagate {
		added, err := store.Propagate(graph)
		if err != nil {
			return nil, fmt.Errorf("corpus: %w", err)
		}
		logger.Info("annotations_propagated", "added", added, "annotations", store.Len())
	}

	return &Corpus{Store: store, Graph: graph, Header: header, Translated: translated}, nil
}

// NewEngine builds an engine over c with the scoring settings of cfg.
func NewEngine(c *Corpus, cfg config.Config, logger *slog.Logger) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithAlpha(cfg.Alpha),
		engine.WithPValue(cfg.PValue),
		engine.WithMethods(cfg.Methods...),
	}
	if cfg.Workers > 0 {
		opts = append(opts, engine.WithWorkers(cfg.Workers))
	}
	if logger != nil {
		opts = append(opts, engine.WithLogger(logger))
	}
	return engine.New(c.Store, c.Graph, opts...)
}

// Resolver returns the g:Orth client cfg asks for, or nil when translation
// is off.
func Resolver(cfg config.Config) ortholog.Resolver {
	if !cfg.Ortholog.Enabled {
		return nil
	}
	var opts []ortholog.GOrthOption
	if cfg.Ortholog.Endpoint != "" {
		opts = append(opts, ortholog.WithEndpoint(cfg.Ortholog.Endpoint))
	}
	return ortholog.NewGOrthClient(opts...)
}
