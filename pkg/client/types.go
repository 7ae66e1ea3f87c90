package client

import (
	"strconv"
	"time"

	"github.com/rmax-ai/revonto/pkg/engine"
)

// StudyRequest is the body of POST /v1/study.
type StudyRequest struct {
	// Terms is the required query set of GO term ids.
	Terms []string `json:"terms"`
	// Methods overrides the daemon's default corrections.
	Methods []string `json:"methods,omitempty"`
	// Alpha overrides the daemon's significance threshold.
	Alpha float64 `json:"alpha,omitempty"`
	// SignificantOnly drops records whose Method p-value is not below alpha.
	SignificantOnly bool `json:"significant_only,omitempty"`
	// Method selects the p-value used by SignificantOnly (default: first method).
	Method string `json:"method,omitempty"`
}

// StudyResult is a completed or archived study.
type StudyResult struct {
	StudyID   string           `json:"study_id"`
	CreatedAt time.Time        `json:"created_at"`
	Cached    bool             `json:"cached,omitempty"`
	Query     []string         `json:"query"`
	Methods   []string         `json:"methods"`
	Alpha     float64          `json:"alpha"`
	PValue    string           `json:"pvalue"`
	Records   []*engine.Record `json:"records"`
}

// StudySummary describes an archived study without its records.
type StudySummary struct {
	StudyID     string    `json:"study_id"`
	CreatedAt   time.Time `json:"created_at"`
	Query       []string  `json:"query"`
	Methods     []string  `json:"methods"`
	Alpha       float64   `json:"alpha"`
	PValue      string    `json:"pvalue"`
	RecordCount int       `json:"record_count"`
}

// Status represents the health check response.
type Status struct {
	// Status is the health status string (e.g. "ok").
	Status string `json:"status"`
	// Version is the daemon version.
	Version string `json:"version"`
}

// APIError is a non-2xx daemon response.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "unexpected status " + strconv.Itoa(e.StatusCode)
}
