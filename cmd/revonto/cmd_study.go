package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rmax-ai/revonto/pkg/blob"
	"github.com/rmax-ai/revonto/pkg/corpus"
	"github.com/rmax-ai/revonto/pkg/engine"
	"github.com/rmax-ai/revonto/pkg/reports"
	"github.com/rmax-ai/revonto/pkg/store"
)

type outputFlags struct {
	significant bool
	method      string
	out         string
	format      string
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.significant, "significant", false, "only print products below alpha")
	cmd.Flags().StringVar(&o.method, "method", "", "p-value used for sorting and --significant (default: first correction)")
	cmd.Flags().StringVarP(&o.out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&o.format, "format", "csv", "output format: csv|json")
}

// writer opens the output destination. The returned close func is a no-op
// for stdout.
func (o *outputFlags) writer(cmd *cobra.Command) (io.Writer, func() error, error) {
	if o.out == "" || o.out == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(o.out)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", o.out, err)
	}
	return f, f.Close, nil
}

func newStudyCmd(g *globalFlags) *cobra.Command {
	var (
		out         outputFlags
		termsFile   string
		archivePath string
		blobDir     string
	)

	cmd := &cobra.Command{
		Use:   "study [GO term ...]",
		Short: "Rank products for a set of GO terms",
		Example: `  revonto study --gaf goa_human.gaf --obo go-basic.obo GO:0006954 GO:0006955
  revonto study -c revonto.yaml --terms-file inflammation.txt --methods bonferroni,fdr_bh --significant`,
		RunE: func(cmd *cobra.Command, args []string) error {
			terms, err := readTerms(args, termsFile)
			if err != nil {
				return err
			}
			logger := g.logger(cmd)

			eng, err := loadEngine(cmd.Context(), g, cmd)
			if err != nil {
				return err
			}
			params, err := out.params(eng)
			if err != nil {
				return err
			}
			records, err := eng.RunStudy(cmd.Context(), terms)
			if err != nil {
				return err
			}
			engine.SortByPValue(records, params.Method)

			study := &store.Study{
				ID:        uuid.NewString(),
				CreatedAt: time.Now().UTC(),
				Query:     terms,
				Methods:   eng.Methods(),
				Alpha:     eng.Alpha(),
				PValue:    eng.PValueName(),
				Records:   records,
			}
			if archivePath != "" {
				if err := archiveStudy(cmd.Context(), archivePath, study); err != nil {
					return err
				}
				logger.Info("study_archived", "study_id", study.ID, "path", archivePath)
			}
			if blobDir != "" {
				var buf bytes.Buffer
				if err := reports.WriteCSV(&buf, records, reports.ReportParams{Methods: study.Methods}); err != nil {
					return err
				}
				if err := blob.NewLocalBlobStore(blobDir).Put(cmd.Context(), blob.ReportKey(study.ID), &buf); err != nil {
					return err
				}
				logger.Info("report_written", "study_id", study.ID, "key", blob.ReportKey(study.ID))
			}

			w, closeOut, err := out.writer(cmd)
			if err != nil {
				return err
			}
			if err := writeStudy(w, study, params, out.format); err != nil {
				closeOut()
				return err
			}
			return closeOut()
		},
	}

	out.register(cmd)
	cmd.Flags().StringVar(&termsFile, "terms-file", "", "file with one GO term per line")
	cmd.Flags().StringVar(&archivePath, "archive", "", "SQLite archive to save the study in")
	cmd.Flags().StringVar(&blobDir, "blob-dir", "", "directory to write the CSV report to")
	return cmd
}

func newIntersectCmd(g *globalFlags) *cobra.Command {
	var (
		out  outputFlags
		sets []string
	)

	cmd := &cobra.Command{
		Use:   "intersect --set TERMS --set TERMS ...",
		Short: "Products ranked for every one of several term sets",
		Long: `intersect runs one study per --set (comma separated GO terms) and prints the
products found by all of them, with each study's p-value side by side.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(sets) < 2 {
				return fmt.Errorf("intersect needs at least two --set values")
			}
			if out.format != "csv" {
				return fmt.Errorf("intersect only writes csv")
			}
			eng, err := loadEngine(cmd.Context(), g, cmd)
			if err != nil {
				return err
			}
			params, err := out.params(eng)
			if err != nil {
				return err
			}
			method := params.Method

			lists := make([][]*engine.Record, len(sets))
			for i, set := range sets {
				records, err := eng.RunStudy(cmd.Context(), splitTerms(set))
				if err != nil {
					return fmt.Errorf("set %d: %w", i+1, err)
				}
				lists[i] = reports.Filter(records, params)
			}

			common := engine.Intersect(lists...)
			products := make([]string, 0, len(common))
			for p := range common {
				products = append(products, p)
			}
			sort.Strings(products)

			w, closeOut, err := out.writer(cmd)
			if err != nil {
				return err
			}
			if err := writeIntersection(w, sets, products, common, method); err != nil {
				closeOut()
				return err
			}
			return closeOut()
		},
	}

	out.register(cmd)
	cmd.Flags().StringArrayVar(&sets, "set", nil, "comma separated GO terms of one study (repeatable)")
	return cmd
}

// params builds the report parameters for the engine's study settings.
// --method is resolved against the corrections the engine runs, so an alias
// or a correction the engine does not run is caught before any study.
func (o *outputFlags) params(eng *engine.Engine) (reports.ReportParams, error) {
	params, err := reports.ReportParams{
		Methods:     eng.Methods(),
		Significant: o.significant,
		Method:      o.method,
		Alpha:       eng.Alpha(),
	}.Resolve()
	if err != nil {
		return params, fmt.Errorf("--method: %w", err)
	}
	if params.Method == "" {
		params.Method = engine.Uncorrected
		if len(params.Methods) > 0 {
			params.Method = params.Methods[0]
		}
	}
	return params, nil
}

func writeIntersection(w io.Writer, sets, products []string, common map[string][]*engine.Record, method string) error {
	cw := csv.NewWriter(w)
	header := []string{"product_id"}
	for i := range sets {
		header = append(header, fmt.Sprintf("p_%s_set%d", method, i+1))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for _, p := range products {
		row := []string{p}
		for _, r := range common[p] {
			v, ok := r.PValue(method)
			if !ok {
				return fmt.Errorf("product %s has no %s p-value", p, method)
			}
			row = append(row, strconv.FormatFloat(v, 'g', 6, 64))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write record %s: %w", p, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func loadEngine(ctx context.Context, g *globalFlags, cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := g.analysisConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := g.logger(cmd)
	c, err := corpus.Load(ctx, cfg, corpus.Resolver(cfg), logger)
	if err != nil {
		return nil, err
	}
	return corpus.NewEngine(c, cfg, logger)
}

func archiveStudy(ctx context.Context, path string, study *store.Study) error {
	st, err := store.NewStore(path)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.SaveStudy(ctx, study)
}

func writeStudy(w io.Writer, study *store.Study, params reports.ReportParams, format string) error {
	switch strings.ToLower(format) {
	case "", "csv":
		return reports.WriteCSV(w, study.Records, params)
	case "json":
		out := *study
		out.Records = reports.Filter(study.Records, params)
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// readTerms collects GO terms from args (comma or space separated) and from
// a file with one term per line. Lines starting with # are comments.
func readTerms(args []string, path string) ([]string, error) {
	var terms []string
	for _, a := range args {
		terms = append(terms, splitTerms(a)...)
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open terms file: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			terms = append(terms, splitTerms(line)...)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read terms file: %w", err)
		}
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("no GO terms given")
	}
	return terms, nil
}

func splitTerms(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}
