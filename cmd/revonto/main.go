package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/revonto/pkg/config"
	"github.com/rmax-ai/revonto/pkg/logging"
)

var (
	Version   = "v0.1.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// globalFlags override the analysis YAML when set on the command line.
type globalFlags struct {
	configPath    string
	gaf           []string
	obo           string
	relationships []string
	alpha         float64
	pvalue        string
	methods       []string
	workers       int
	noPropagate   bool
	appendTaxon   bool
	logLevel      string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "revonto",
		Short: "Gene Ontology reverse lookup",
		Long: `revonto ranks gene products by how over-represented a set of GO terms
is among their annotations, compared with the whole annotated population.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "analysis YAML file")
	pf.StringSliceVar(&g.gaf, "gaf", nil, "GAF annotation file (repeatable)")
	pf.StringVar(&g.obo, "obo", "", "OBO ontology file")
	pf.StringSliceVar(&g.relationships, "relationships", nil, "extra parent relationships, e.g. part_of")
	pf.Float64Var(&g.alpha, "alpha", 0.05, "significance threshold")
	pf.StringVar(&g.pvalue, "pvalue", "fisher", "p-value calculation: fisher|binomial")
	pf.StringSliceVar(&g.methods, "methods", nil, "multiple-testing corrections: bonferroni,holm,fdr_bh")
	pf.IntVar(&g.workers, "workers", 0, "parallel candidate workers (0 = GOMAXPROCS)")
	pf.BoolVar(&g.noPropagate, "no-propagate", false, "do not propagate annotations to ancestor terms")
	pf.BoolVar(&g.appendTaxon, "append-taxon", false, "suffix product ids with their taxon")
	pf.StringVar(&g.logLevel, "log-level", "warn", "log level: debug|info|warn|error")

	rootCmd.AddCommand(
		newStudyCmd(g),
		newIntersectCmd(g),
		newPropagateCmd(g),
		newMCPCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// analysisConfig loads the YAML named by --config and applies the flags
// the user set explicitly.
func (g *globalFlags) analysisConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("gaf") {
		cfg.GAF = g.gaf
	}
	if flags.Changed("obo") {
		cfg.OBO = g.obo
	}
	if flags.Changed("relationships") {
		cfg.Relationships = g.relationships
	}
	if flags.Changed("alpha") {
		cfg.Alpha = g.alpha
	}
	if flags.Changed("pvalue") {
		cfg.PValue = g.pvalue
	}
	if flags.Changed("methods") {
		cfg.Methods = g.methods
	}
	if flags.Changed("workers") {
		cfg.Workers = g.workers
	}
	if flags.Changed("no-propagate") {
		cfg.Propagate = !g.noPropagate
	}
	if flags.Changed("append-taxon") {
		cfg.AppendTaxon = g.appendTaxon
	}
	return cfg, cfg.Validate()
}

func (g *globalFlags) logger(cmd *cobra.Command) *slog.Logger {
	return logging.New(logging.Config{
		Level:  g.logLevel,
		Format: logging.FormatText,
		Writer: cmd.ErrOrStderr(),
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "revonto %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
