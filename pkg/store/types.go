package store

import (
	"errors"
	"time"

	"github.com/rmax-ai/revonto/pkg/engine"
)

// ErrStudyNotFound is returned when a study id is not in the archive.
var ErrStudyNotFound = errors.New("study not found")

// Study is one archived reverse lookup run.
type Study struct {
	ID        string           `json:"study_id"`
	CreatedAt time.Time        `json:"created_at"`
	Query     []string         `json:"query"`
	Methods   []string         `json:"methods"`
	Alpha     float64          `json:"alpha"`
	PValue    string           `json:"pvalue"`
	Records   []*engine.Record `json:"records"`
}

// StudySummary is a Study without its records.
type StudySummary struct {
	ID          string    `json:"study_id"`
	CreatedAt   time.Time `json:"created_at"`
	Query       []string  `json:"query"`
	Methods     []string  `json:"methods"`
	Alpha       float64   `json:"alpha"`
	PValue      string    `json:"pvalue"`
	RecordCount int       `json:"record_count"`
}
