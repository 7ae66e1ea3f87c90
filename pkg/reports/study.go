package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rmax-ai/revonto/pkg/engine"
)

// StudyReport renders one archived study.
type StudyReport struct {
	store  ReportStore
	format ReportFormat
}

// NewStudyReport creates a CSV study report generator.
func NewStudyReport(s ReportStore) *StudyReport {
	return &StudyReport{store: s, format: ReportFormatCSV}
}

// Generate loads params.StudyID and renders its records.
func (r *StudyReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	if params.StudyID == "" {
		return nil, fmt.Errorf("study id is required")
	}
	study, err := r.store.GetStudy(ctx, params.StudyID)
	if err != nil {
		return nil, err
	}

	if len(params.Methods) == 0 {
		params.Methods = study.Methods
	}
	if params.Alpha == 0 {
		params.Alpha = study.Alpha
	}
	if params, err = params.Resolve(); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if r.format == ReportFormatJSON {
		out := *study
		out.Records = Filter(study.Records, params)
		if err := json.NewEncoder(buf).Encode(out); err != nil {
			return nil, fmt.Errorf("failed to encode study: %w", err)
		}
		return buf, nil
	}

	if err := WriteCSV(buf, study.Records, params); err != nil {
		return nil, err
	}
	return buf, nil
}

// Header returns the CSV header for the given correction methods.
func Header(methods []string) []string {
	headers := []string{"product_id", "study_count", "study_n", "pop_count", "pop_n", "enrichment", "p_uncorrected"}
	for _, m := range methods {
		headers = append(headers, "p_"+m)
	}
	return append(headers, "study_items")
}

// Filter applies the significance filter of params to records.
func Filter(records []*engine.Record, params ReportParams) []*engine.Record {
	if !params.Significant {
		return records
	}
	method := params.Method
	if method == "" && len(params.Methods) > 0 {
		method = params.Methods[0]
	}
	out := make([]*engine.Record, 0, len(records))
	for _, rec := range records {
		if rec.Significant(method, params.Alpha) {
			out = append(out, rec)
		}
	}
	return out
}

// WriteCSV writes records as CSV. Columns for methods a record lacks are
// left empty.
func WriteCSV(w io.Writer, records []*engine.Record, params ReportParams) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header(params.Methods)); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for _, rec := range Filter(records, params) {
		row := []string{
			rec.ProductID,
			strconv.Itoa(rec.StudyCount),
			strconv.Itoa(rec.StudyN),
			strconv.Itoa(rec.PopCount),
			strconv.Itoa(rec.PopN),
			rec.Enrichment,
			formatP(rec.PUncorrected),
		}
		for _, m := range params.Methods {
			if p, ok := rec.PValue(m); ok {
				row = append(row, formatP(p))
			} else {
				row = append(row, "")
			}
		}
		row = append(row, strings.Join(rec.StudyItems, ";"))
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write record %s: %w", rec.ProductID, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// StudyIndexReport lists archived studies.
type StudyIndexReport struct {
	store  ReportStore
	format ReportFormat
}

// Generate lists up to params.Limit studies, most recent first.
func (r *StudyIndexReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	studies, err := r.store.ListStudies(ctx, params.Limit)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if r.format == ReportFormatJSON {
		if err := json.NewEncoder(buf).Encode(studies); err != nil {
			return nil, fmt.Errorf("failed to encode studies: %w", err)
		}
		return buf, nil
	}

	writer := csv.NewWriter(buf)
	if err := writer.Write([]string{"study_id", "created_at", "query", "methods", "alpha", "pvalue", "record_count"}); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}
	for _, s := range studies {
		row := []string{
			s.ID,
			s.CreatedAt.UTC().Format(time.RFC3339),
			strings.Join(s.Query, ";"),
			strings.Join(s.Methods, ";"),
			strconv.FormatFloat(s.Alpha, 'g', -1, 64),
			s.PValue,
			strconv.Itoa(s.RecordCount),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write study %s: %w", s.ID, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf, nil
}

func formatP(p float64) string {
	return strconv.FormatFloat(p, 'g', 6, 64)
}
