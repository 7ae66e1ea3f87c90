package reports

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rmax-ai/revonto/pkg/engine"
	errs "github.com/rmax-ai/revonto/pkg/errors"
	"github.com/rmax-ai/revonto/pkg/stats"
	"github.com/rmax-ai/revonto/pkg/store"
)

type ReportType string

const (
	ReportTypeStudy   ReportType = "study"
	ReportTypeStudies ReportType = "studies"
)

type ReportFormat string

const (
	ReportFormatCSV  ReportFormat = "csv"
	ReportFormatJSON ReportFormat = "json"
)

// ReportParams selects and filters what a report contains.
type ReportParams struct {
	// StudyID names the archived study for study reports.
	StudyID string
	// Methods fixes the order of the p_<method> columns. Empty means the
	// methods the study was run with.
	Methods []string
	// Significant keeps only records whose Method p-value is below Alpha.
	Significant bool
	Method      string
	// Alpha defaults to the study's alpha.
	Alpha float64
	// Limit bounds the studies listed by index reports.
	Limit int
}

// Resolve rewrites Methods and Method to the names records store their
// corrected values under. Method must be "uncorrected" or one of Methods:
// filtering on a correction the study never ran would silently drop every
// record, so it is a configuration error instead.
func (p ReportParams) Resolve() (ReportParams, error) {
	methods, err := stats.CanonicalCorrections(p.Methods)
	if err != nil {
		return p, err
	}
	p.Methods = methods

	if p.Method == "" {
		return p, nil
	}
	if strings.EqualFold(strings.TrimSpace(p.Method), engine.Uncorrected) {
		p.Method = engine.Uncorrected
		return p, nil
	}
	c, err := stats.NewCorrection(p.Method)
	if err != nil {
		return p, err
	}
	for _, m := range methods {
		if m == c.Name() {
			p.Method = m
			return p, nil
		}
	}
	return p, errs.WrapConfiguration(
		fmt.Errorf("%w: %q was not computed for this study (have: %s)", errs.ErrUnknownMethod, p.Method, strings.Join(methods, ", ")),
		"reports", "Resolve", "method lookup")
}

// ReportStore defines the interface for data access required by reports.
type ReportStore interface {
	GetStudy(ctx context.Context, id string) (*store.Study, error)
	ListStudies(ctx context.Context, limit int) ([]store.StudySummary, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}
