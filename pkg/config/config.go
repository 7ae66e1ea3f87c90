// Package config holds the analysis configuration shared by the CLI and the
// daemon: which corpus to load, how to prepare it, and how to score studies.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	errs "github.com/rmax-ai/revonto/pkg/errors"
	"github.com/rmax-ai/revonto/pkg/stats"
)

// Config is the analysis configuration.
type Config struct {
	// GAF lists annotation files. Their annotations are merged.
	GAF []string `yaml:"gaf" json:"gaf"`
	// OBO is the ontology file.
	OBO string `yaml:"obo" json:"obo"`
	// Relationships are followed in addition to is_a (e.g. part_of).
	Relationships []string `yaml:"relationships" json:"relationships,omitempty"`
	// IncludeObsolete keeps obsolete terms in the graph.
	IncludeObsolete bool `yaml:"include_obsolete" json:"include_obsolete,omitempty"`

	Alpha   float64  `yaml:"alpha" json:"alpha"`
	PValue  string   `yaml:"pvalue" json:"pvalue"`
	Methods []string `yaml:"methods" json:"methods"`
	Workers int      `yaml:"workers" json:"workers,omitempty"`

	// Propagate copies annotations up to every ancestor term.
	Propagate bool `yaml:"propagate" json:"propagate"`
	// RestrictToOntology drops annotations to terms the ontology lacks.
	RestrictToOntology bool `yaml:"restrict_to_ontology" json:"restrict_to_ontology"`
	// AppendTaxon suffixes product ids with their taxon.
	AppendTaxon bool `yaml:"append_taxon" json:"append_taxon,omitempty"`

	Ortholog OrthologConfig `yaml:"ortholog" json:"ortholog"`
}

// OrthologConfig translates the corpus into another organism before studies.
type OrthologConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Source   string `yaml:"source" json:"source,omitempty"`
	Target   string `yaml:"target" json:"target,omitempty"`
	Endpoint string `yaml:"endpoint" json:"endpoint,omitempty"`
}

// Default returns the configuration used when no file sets a value.
func Default() Config {
	return Config{
		Alpha:              0.05,
		PValue:             stats.Fisher,
		Methods:            []string{stats.Bonferroni},
		Propagate:          true,
		RestrictToOntology: true,
	}
}

// Load reads a YAML file over the defaults, then applies REVONTO_*
// environment overrides. An empty path yields the defaults with overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errs.WrapConfiguration(
				fmt.Errorf("%w: %v", errs.ErrInvalidConfig, err),
				"config", "Load", "yaml parse",
			)
		}
	}
	if err := loadFromEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFromEnv applies REVONTO_* overrides. A value that does not parse is a
// configuration error, never ignored.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("REVONTO_GAF"); v != "" {
		cfg.GAF = splitList(v)
	}
	if v := os.Getenv("REVONTO_OBO"); v != "" {
		cfg.OBO = v
	}
	if v := os.Getenv("REVONTO_ALPHA"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("REVONTO_ALPHA", v, err)
		}
		cfg.Alpha = f
	}
	if v := os.Getenv("REVONTO_PVALUE"); v != "" {
		cfg.PValue = v
	}
	if v := os.Getenv("REVONTO_METHODS"); v != "" {
		cfg.Methods = splitList(v)
	}
	if v := os.Getenv("REVONTO_WORKERS"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return envError("REVONTO_WORKERS", v, err)
		}
		cfg.Workers = i
	}
	if v := os.Getenv("REVONTO_PROPAGATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("REVONTO_PROPAGATE", v, err)
		}
		cfg.Propagate = b
	}
	return nil
}

func envError(name, value string, err error) error {
	return errs.WrapConfiguration(
		fmt.Errorf("%w: %s=%q: %v", errs.ErrInvalidConfig, name, value, err),
		"config", "Load", "environment override",
	)
}

// Validate checks that the configuration can build an engine. Every
// failure is a configuration error.
func (c Config) Validate() error {
	if len(c.GAF) == 0 {
		return invalid("at least one gaf file is required")
	}
	if c.OBO == "" {
		return invalid("obo file is required")
	}
	if err := stats.ValidateAlpha(c.Alpha); err != nil {
		return err
	}
	if _, err := stats.NewPValueCalculator(c.PValue); err != nil {
		return err
	}
	if len(c.Methods) == 0 {
		return invalid("at least one correction method is required")
	}
	if _, err := stats.NewCorrections(c.Methods); err != nil {
		return err
	}
	if c.Workers < 0 {
		return invalid("workers must be >= 0")
	}
	if c.Ortholog.Enabled && (c.Ortholog.Source == "" || c.Ortholog.Target == "") {
		return invalid("ortholog translation needs source and target taxa")
	}
	return nil
}

func invalid(msg string) error {
	return errs.WrapConfiguration(fmt.Errorf("%w: %s", errs.ErrInvalidConfig, msg), "config", "Validate", "validation")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
