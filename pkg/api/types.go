package api

import (
	"time"

	"github.com/rmax-ai/revonto/pkg/engine"
)

// StudyRequest matches the POST /v1/study body schema
type StudyRequest struct {
	Terms           []string `json:"terms"`
	Methods         []string `json:"methods,omitempty"`
	Alpha           float64  `json:"alpha,omitempty"`
	SignificantOnly bool     `json:"significant_only,omitempty"`
	Method          string   `json:"method,omitempty"` // defaults to the first method
}

// StudyResponse matches the response for POST /v1/study and GET /v1/study/{id}
type StudyResponse struct {
	StudyID   string           `json:"study_id"`
	CreatedAt time.Time        `json:"created_at"`
	Cached    bool             `json:"cached,omitempty"`
	Query     []string         `json:"query"`
	Methods   []string         `json:"methods"`
	Alpha     float64          `json:"alpha"`
	PValue    string           `json:"pvalue"`
	Records   []*engine.Record `json:"records"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse matches the response for GET /v1/health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
