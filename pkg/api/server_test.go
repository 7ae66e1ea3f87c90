package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/revonto/pkg/annotation"
	"github.com/rmax-ai/revonto/pkg/blob"
	"github.com/rmax-ai/revonto/pkg/engine"
	"github.com/rmax-ai/revonto/pkg/logging"
	"github.com/rmax-ai/revonto/pkg/ontology"
	"github.com/rmax-ai/revonto/pkg/store"
	"github.com/rmax-ai/revonto/pkg/store/redis"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	s := annotation.NewStore()
	for product, terms := range map[string][]string{
		"P1": {"GO:A", "GO:B"},
		"P2": {"GO:A"},
		"P3": {"GO:C", "GO:D"},
	} {
		for _, term := range terms {
			_, err := s.Add(annotation.Annotation{ProductID: product, TermID: term})
			require.NoError(t, err)
		}
	}
	g, err := ontology.NewGraph([]ontology.Term{{ID: "GO:A"}, {ID: "GO:B"}, {ID: "GO:C"}, {ID: "GO:D"}})
	require.NoError(t, err)

	e, err := engine.New(s, g, engine.WithLogger(logging.Discard()), engine.WithMethods("bonferroni", "fdr_bh"))
	require.NoError(t, err)
	return e
}

type testServer struct {
	*Server
	archive *store.Store
	blobs   *blob.LocalBlobStore
	redis   *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	archive, err := store.NewStore(filepath.Join(dir, "revonto.db"))
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	blobs := blob.NewLocalBlobStore(filepath.Join(dir, "blobs"))

	s := NewServer(newTestEngine(t), "")
	s.SetLogger(logging.Discard())
	s.SetVersion("test")
	s.SetArchive(archive)
	s.SetCache(redis.NewCache(rc, 0, logging.Discard()))
	s.SetBlobStore(blobs)
	return &testServer{Server: s, archive: archive, blobs: blobs, redis: mr}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeStudy(t *testing.T, w *httptest.ResponseRecorder) StudyResponse {
	t.Helper()
	var resp StudyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestHandleStudy(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/study", StudyRequest{Terms: []string{"GO:A", "GO:B"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeStudy(t, w)
	assert.NotEmpty(t, resp.StudyID)
	assert.False(t, resp.Cached)
	assert.Equal(t, []string{"bonferroni", "fdr_bh"}, resp.Methods)
	assert.Equal(t, 0.05, resp.Alpha)
	assert.Equal(t, "fisher", resp.PValue)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "P1", resp.Records[0].ProductID)
	assert.Equal(t, "P2", resp.Records[1].ProductID)

	// archived
	study, err := s.archive.GetStudy(context.Background(), resp.StudyID)
	require.NoError(t, err)
	assert.Len(t, study.Records, 2)

	// report written
	rc, err := s.blobs.Get(context.Background(), blob.ReportKey(resp.StudyID))
	require.NoError(t, err)
	rc.Close()

	// second identical request is served from the cache
	w = s.do(t, http.MethodPost, "/v1/study", StudyRequest{Terms: []string{"GO:B", "GO:A"}})
	require.Equal(t, http.StatusOK, w.Code)
	cached := decodeStudy(t, w)
	assert.True(t, cached.Cached)
	assert.Equal(t, resp.StudyID, cached.StudyID)
	assert.Len(t, cached.Records, 2)
}

func TestHandleStudy_SignificantOnly(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/study", StudyRequest{
		Terms:           []string{"GO:A", "GO:B"},
		SignificantOnly: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	// four terms in the population are too few for anything to pass alpha
	assert.Empty(t, decodeStudy(t, w).Records)
}

func TestHandleStudy_MethodAliases(t *testing.T) {
	tests := []struct {
		canonical string
		aliases   []string
		want      int
	}{
		// q-values 1/3 and 1/2
		{"fdr_bh", []string{"fdr", "FDR_BH", " fdr "}, 2},
		// 1/3 and 1
		{"bonferroni", []string{"Bonferroni", "BONFERRONI"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.canonical, func(t *testing.T) {
			s := newTestServer(t)
			study := func(method string) StudyResponse {
				w := s.do(t, http.MethodPost, "/v1/study", StudyRequest{
					Terms:           []string{"GO:A", "GO:B"},
					Methods:         []string{method},
					Alpha:           0.9,
					SignificantOnly: true,
					Method:          method,
				})
				require.Equal(t, http.StatusOK, w.Code, w.Body.String())
				return decodeStudy(t, w)
			}

			first := study(tt.canonical)
			require.Len(t, first.Records, tt.want)

			for _, alias := range tt.aliases {
				got := study(alias)
				assert.Equal(t, []string{tt.canonical}, got.Methods, alias)
				assert.True(t, got.Cached, "%s shares the cache entry", alias)
				require.Len(t, got.Records, tt.want, alias)
				for _, r := range got.Records {
					_, ok := r.PValue(tt.canonical)
					assert.True(t, ok, alias)
				}
			}

			w := s.do(t, http.MethodGet, "/v1/reports/"+first.StudyID, nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), "p_"+tt.canonical)
		})
	}
}

func TestHandleStudy_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing terms", StudyRequest{}, "missing_terms"},
		{"unknown method", StudyRequest{Terms: []string{"GO:A"}, Methods: []string{"sidak"}}, "invalid_study"},
		{"bad alpha", StudyRequest{Terms: []string{"GO:A"}, Alpha: 2}, "invalid_study"},
		{"filter method not run", StudyRequest{Terms: []string{"GO:A"}, SignificantOnly: true, Method: "holm"}, "invalid_study"},
		{"unknown filter method", StudyRequest{Terms: []string{"GO:A"}, SignificantOnly: true, Method: "sidak"}, "invalid_study"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/study", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var er ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&er))
			assert.Equal(t, tt.code, er.Error)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/study", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/v1/study", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleStudy_WithoutOptionalBackends(t *testing.T) {
	s := NewServer(newTestEngine(t), "")
	s.SetLogger(logging.Discard())

	body, _ := json.Marshal(StudyRequest{Terms: []string{"GO:C"}})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/study", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/studies", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestHandleGetStudyAndList(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/study", StudyRequest{Terms: []string{"GO:C"}, Methods: []string{"holm"}})
	require.Equal(t, http.StatusOK, w.Code)
	id := decodeStudy(t, w).StudyID

	w = s.do(t, http.MethodGet, "/v1/study/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeStudy(t, w)
	assert.Equal(t, id, got.StudyID)
	assert.Equal(t, []string{"holm"}, got.Methods)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "P3", got.Records[0].ProductID)

	w = s.do(t, http.MethodGet, "/v1/study/"+id+"?significant=true&method=HOLM", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeStudy(t, w).Records)

	w = s.do(t, http.MethodGet, "/v1/study/"+id+"?significant=true&method=bonferroni", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/v1/study/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/v1/studies?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []store.StudySummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	w = s.do(t, http.MethodGet, "/v1/studies?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleReport(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/study", StudyRequest{Terms: []string{"GO:A"}})
	require.Equal(t, http.StatusOK, w.Code)
	id := decodeStudy(t, w).StudyID

	w = s.do(t, http.MethodGet, "/v1/reports/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "product_id,study_count,study_n,pop_count,pop_n,enrichment,p_uncorrected,p_bonferroni,p_fdr_bh,study_items", lines[0])

	// removing the file falls back to rendering from the archive
	require.NoError(t, s.blobs.Delete(context.Background(), blob.ReportKey(id)))
	w = s.do(t, http.MethodGet, "/v1/reports/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, lines[0], strings.SplitN(w.Body.String(), "\n", 2)[0])

	w = s.do(t, http.MethodGet, "/v1/reports/"+id+"?format=json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = s.do(t, http.MethodGet, "/v1/reports/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlePopulationAndHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/population", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pop engine.Population
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pop))
	assert.Equal(t, 4, pop.Terms)
	assert.Equal(t, 3, pop.Products)
	assert.Equal(t, 5, pop.Annotations)

	w = s.do(t, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var h HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&h))
	assert.Equal(t, HealthResponse{Status: "ok", Version: "test"}, h)
}

type failingRunner struct {
	err error
}

func (f *failingRunner) RunStudy(ctx context.Context, query []string, opts ...engine.StudyOption) ([]*engine.Record, error) {
	return nil, f.err
}
func (f *failingRunner) Population() engine.Population { return engine.Population{} }
func (f *failingRunner) Alpha() float64                { return 0.05 }
func (f *failingRunner) Methods() []string             { return []string{"bonferroni"} }
func (f *failingRunner) PValueName() string            { return "fisher" }

func TestHandleStudy_InternalError(t *testing.T) {
	s := NewServer(&failingRunner{err: errors.New("disk on fire")}, "")
	s.SetLogger(logging.Discard())

	body, _ := json.Marshal(StudyRequest{Terms: []string{"GO:A"}})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/study", bytes.NewReader(body)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}

func TestTraceIDAndRecovery(t *testing.T) {
	s := NewServer(newTestEngine(t), "")
	s.SetLogger(logging.Discard())

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Len(t, w.Header().Get("X-Trace-ID"), 32)

	panicky := s.withRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w = httptest.NewRecorder()
	panicky.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSecureHeaders(t *testing.T) {
	// Create a handler that just returns 200 OK
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Wrap it with our middleware
	secureHandler := withSecureHeaders(handler)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	secureHandler.ServeHTTP(w, req)

	expectedHeaders := map[string]string{
		"Content-Security-Policy":   "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:;",
		"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Referrer-Policy":           "no-referrer",
		"X-XSS-Protection":          "1; mode=block",
	}

	for key, expected := range expectedHeaders {
		got := w.Header().Get(key)
		if got != expected {
			t.Errorf("Header %s: expected %q, got %q", key, expected, got)
		}
	}
}
