package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmax-ai/revonto/pkg/blob"
	"github.com/rmax-ai/revonto/pkg/engine"
	errs "github.com/rmax-ai/revonto/pkg/errors"
	"github.com/rmax-ai/revonto/pkg/reports"
	"github.com/rmax-ai/revonto/pkg/store"
	"github.com/rmax-ai/revonto/pkg/store/redis"
)

// Context keys
type contextKey string

const traceIDKey contextKey = "trace_id"

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 1 << 20

// Interfaces for dependencies to enable mocking

// StudyRunner scores query sets against the loaded population.
type StudyRunner interface {
	RunStudy(ctx context.Context, query []string, opts ...engine.StudyOption) ([]*engine.Record, error)
	Population() engine.Population
	Alpha() float64
	Methods() []string
	PValueName() string
}

// StudyArchive persists completed studies.
type StudyArchive interface {
	SaveStudy(ctx context.Context, study *store.Study) error
	GetStudy(ctx context.Context, id string) (*store.Study, error)
	ListStudies(ctx context.Context, limit int) ([]store.StudySummary, error)
}

// StudyCache short-circuits repeated studies. Misses and failures look the same.
type StudyCache interface {
	Get(ctx context.Context, key string) (redis.Entry, bool)
	Set(ctx context.Context, key string, entry redis.Entry)
}

// Server encapsulates the HTTP API server
type Server struct {
	engine  StudyRunner
	archive StudyArchive
	cache   StudyCache
	blobs   blob.BlobStore
	logger  *slog.Logger
	version string
	server  *http.Server

	// TLS Config
	tlsCertFile string
	tlsKeyFile  string
}

// NewServer creates a new API server instance
func NewServer(runner StudyRunner, addr string) *Server {
	s := &Server{
		engine:  runner,
		logger:  slog.Default(),
		version: "dev",
	}

	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/study", s.handleStudy)
	mux.HandleFunc("GET /v1/study/{id}", s.handleGetStudy)
	mux.HandleFunc("GET /v1/studies", s.handleListStudies)
	mux.HandleFunc("GET /v1/population", s.handlePopulation)
	mux.HandleFunc("GET /v1/reports/{id}", s.handleReport)

	// Middleware: Logging, Panic Recovery, Security Headers
	handler := s.withLogging(s.withRecovery(withSecureHeaders(mux)))

	// Use default port if addr is empty
	if addr == "" {
		addr = ":8095"
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetArchive enables study persistence and the lookup endpoints
func (s *Server) SetArchive(a StudyArchive) {
	s.archive = a
}

// SetCache enables the study result cache
func (s *Server) SetCache(c StudyCache) {
	s.cache = c
}

// SetBlobStore enables report files
func (s *Server) SetBlobStore(b blob.BlobStore) {
	s.blobs = b
}

// SetLogger sets the request and error logger
func (s *Server) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetVersion sets the version reported by /v1/health
func (s *Server) SetVersion(v string) {
	s.version = v
}

// SetTLS configures the server to use TLS
func (s *Server) SetTLS(certFile, keyFile string) {
	s.tlsCertFile = certFile
	s.tlsKeyFile = keyFile
}

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		s.logger.Info("server_starting_tls", "addr", s.server.Addr)
		if err := s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile); err != http.ErrServerClosed {
			return err
		}
		return nil
	}

	s.logger.Info("server_starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("server_stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStudy(w http.ResponseWriter, r *http.Request) {
	var req StudyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Terms) == 0 {
		writeError(w, http.StatusBadRequest, "missing_terms", "terms must contain at least one GO term id")
		return
	}

	methods := req.Methods
	if len(methods) == 0 {
		methods = s.engine.Methods()
	}
	alpha := req.Alpha
	if alpha == 0 {
		alpha = s.engine.Alpha()
	}

	// Aliases resolve to the names records are keyed by, so the response,
	// the filter and the cache key all agree with the records.
	filter, err := reports.ReportParams{
		Methods:     methods,
		Significant: req.SignificantOnly,
		Method:      req.Method,
		Alpha:       alpha,
	}.Resolve()
	if err != nil {
		s.writeStudyError(w, r, err)
		return
	}
	methods = filter.Methods

	var opts []engine.StudyOption
	if len(req.Methods) > 0 {
		opts = append(opts, engine.StudyMethods(methods...))
	}
	if req.Alpha != 0 {
		opts = append(opts, engine.StudyAlpha(req.Alpha))
	}

	resp := StudyResponse{
		Query:   req.Terms,
		Methods: methods,
		Alpha:   alpha,
		PValue:  s.engine.PValueName(),
	}

	var key string
	if s.cache != nil {
		key = redis.StudyKey(req.Terms, methods, alpha, resp.PValue)
		if entry, ok := s.cache.Get(r.Context(), key); ok {
			resp.StudyID = entry.StudyID
			resp.Cached = true
			resp.Records = reports.Filter(entry.Records, filter)
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	records, err := s.engine.RunStudy(r.Context(), req.Terms, opts...)
	if err != nil {
		s.writeStudyError(w, r, err)
		return
	}

	resp.StudyID = uuid.NewString()
	resp.CreatedAt = time.Now().UTC()
	s.persist(r.Context(), &store.Study{
		ID:        resp.StudyID,
		CreatedAt: resp.CreatedAt,
		Query:     req.Terms,
		Methods:   methods,
		Alpha:     alpha,
		PValue:    resp.PValue,
		Records:   records,
	})
	if s.cache != nil {
		s.cache.Set(r.Context(), key, redis.Entry{StudyID: resp.StudyID, Records: records})
	}

	resp.Records = reports.Filter(records, filter)
	writeJSON(w, http.StatusOK, resp)
}

// persist archives a study and writes its CSV report. Both are best effort;
// the caller already has the results.
func (s *Server) persist(ctx context.Context, study *store.Study) {
	traceID := getTraceID(ctx)
	if s.archive != nil {
		if err := s.archive.SaveStudy(ctx, study); err != nil {
			s.logger.Error("failed_to_archive_study", "trace_id", traceID, "study_id", study.ID, "error", err)
		}
	}
	if s.blobs != nil {
		var buf bytes.Buffer
		if err := reports.WriteCSV(&buf, study.Records, reports.ReportParams{Methods: study.Methods}); err != nil {
			s.logger.Error("failed_to_render_report", "trace_id", traceID, "study_id", study.ID, "error", err)
			return
		}
		if err := s.blobs.Put(ctx, blob.ReportKey(study.ID), &buf); err != nil {
			s.logger.Error("failed_to_store_report", "trace_id", traceID, "study_id", study.ID, "error", err)
		}
	}
}

func (s *Server) writeStudyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errs.IsConfiguration(err):
		writeError(w, http.StatusBadRequest, "invalid_study", err.Error())
	case errs.IsDataShape(err):
		writeError(w, http.StatusUnprocessableEntity, "invalid_data", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "study_canceled", err.Error())
	default:
		// Don't expose internal error details, but log them
		s.logger.Error("study_failed", "trace_id", getTraceID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_server_error", "")
	}
}

func (s *Server) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotImplemented, "archive_disabled", "")
		return
	}
	study, err := s.archive.GetStudy(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeArchiveError(w, r, err)
		return
	}

	params := reports.ReportParams{Methods: study.Methods, Alpha: study.Alpha}
	q := r.URL.Query()
	if q.Get("significant") == "true" {
		params.Significant = true
		params.Method = q.Get("method")
	}
	if params, err = params.Resolve(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_study", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StudyResponse{
		StudyID:   study.ID,
		CreatedAt: study.CreatedAt,
		Query:     study.Query,
		Methods:   study.Methods,
		Alpha:     study.Alpha,
		PValue:    study.PValue,
		Records:   reports.Filter(study.Records, params),
	})
}

func (s *Server) handleListStudies(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotImplemented, "archive_disabled", "")
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.archive.ListStudies(r.Context(), limit)
	if err != nil {
		s.writeArchiveError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePopulation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Population())
}

// handleReport serves the stored CSV report of a study, rendering it from
// the archive when no report file exists yet. ?format=json skips the file.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format := reports.ReportFormat(strings.ToLower(r.URL.Query().Get("format")))
	if format == "" {
		format = reports.ReportFormatCSV
	}

	if format == reports.ReportFormatCSV && s.blobs != nil {
		rc, err := s.blobs.Get(r.Context(), blob.ReportKey(id))
		switch {
		case err == nil:
			defer rc.Close()
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".csv"))
			if _, err := io.Copy(w, rc); err != nil {
				s.logger.Error("failed_to_stream_report", "trace_id", getTraceID(r.Context()), "study_id", id, "error", err)
			}
			return
		case errors.Is(err, blob.ErrInvalidKey):
			writeError(w, http.StatusBadRequest, "invalid_study_id", "")
			return
		case !errors.Is(err, blob.ErrNotFound):
			s.logger.Error("failed_to_read_report", "trace_id", getTraceID(r.Context()), "study_id", id, "error", err)
		}
	}

	if s.archive == nil {
		writeError(w, http.StatusNotFound, "report_not_found", "")
		return
	}
	gen, err := reports.NewReportGenerator(reports.ReportTypeStudy, format, s.archive)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_format", err.Error())
		return
	}
	out, err := gen.Generate(r.Context(), reports.ReportParams{StudyID: id})
	if err != nil {
		s.writeArchiveError(w, r, err)
		return
	}
	body, err := io.ReadAll(out)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_server_error", "")
		return
	}

	if format == reports.ReportFormatCSV {
		if s.blobs != nil {
			if err := s.blobs.Put(r.Context(), blob.ReportKey(id), bytes.NewReader(body)); err != nil {
				s.logger.Error("failed_to_store_report", "trace_id", getTraceID(r.Context()), "study_id", id, "error", err)
			}
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".csv"))
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) writeArchiveError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrStudyNotFound) {
		writeError(w, http.StatusNotFound, "study_not_found", "")
		return
	}
	s.logger.Error("archive_error", "trace_id", getTraceID(r.Context()), "error", err)
	writeError(w, http.StatusInternalServerError, "internal_server_error", "")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: s.version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// Middleware: Panic Recovery
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic_recovered", "trace_id", getTraceID(r.Context()), "error", fmt.Sprint(err))
				writeError(w, http.StatusInternalServerError, "internal_server_error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Logging with trace IDs
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = generateTraceID()
		}

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		r = r.WithContext(ctx)

		// Wrap writer to capture status code
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		s.logger.Info("http_request",
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func generateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback if random fails (unlikely)
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// statusWriter captures HTTP status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:;")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		next.ServeHTTP(w, r)
	})
}
