package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/revonto/pkg/corpus"
)

func newPropagateCmd(g *globalFlags) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "propagate",
		Short: "Propagate annotations to ancestor terms and report the result",
		Long: `propagate loads the corpus, copies every annotation to all ancestors of its
term, and prints population sizes before and after. With --out the propagated
annotations are written as JSON lines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.analysisConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Propagate = false

			c, err := corpus.Load(cmd.Context(), cfg, corpus.Resolver(cfg), g.logger(cmd))
			if err != nil {
				return err
			}
			s := c.Store
			beforeAnnotations, beforeTerms := s.Len(), s.TermCount()

			added, err := s.Propagate(c.Graph)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ontology terms:  %d\n", c.Graph.Len())
			fmt.Fprintf(w, "products:        %d\n", s.ProductCount())
			fmt.Fprintf(w, "annotated terms: %d -> %d\n", beforeTerms, s.TermCount())
			fmt.Fprintf(w, "annotations:     %d -> %d (+%d)\n", beforeAnnotations, s.Len(), added)

			if out == "" {
				return nil
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			bw := bufio.NewWriter(f)
			enc := json.NewEncoder(bw)
			for _, a := range s.Annotations() {
				if err := enc.Encode(a); err != nil {
					f.Close()
					return fmt.Errorf("failed to write annotation: %w", err)
				}
			}
			if err := bw.Flush(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write propagated annotations as JSON lines")
	return cmd
}
