package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rmax-ai/revonto/pkg/engine"
)

func fastRetry(attempts int) Option {
	return WithRetry(&ExponentialBackoff{Base: time.Millisecond, Max: time.Millisecond, Factor: 1}, attempts)
}

func TestClient_RunStudy(t *testing.T) {
	rec := &engine.Record{ProductID: "UniProtKB:P1", StudyItems: []string{"GO:1"}, StudyCount: 1, StudyN: 1, PopCount: 1, PopN: 4, PUncorrected: 0.25, Enrichment: engine.Enriched}
	rec.SetCorrected("bonferroni", 0.25)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/study" {
			t.Errorf("Expected path /v1/study, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected method POST, got %s", r.Method)
		}
		var req StudyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Terms) != 1 || req.Terms[0] != "GO:1" {
			t.Errorf("unexpected terms %v", req.Terms)
		}
		json.NewEncoder(w).Encode(StudyResult{
			StudyID: "s-1",
			Query:   req.Terms,
			Methods: []string{"bonferroni"},
			Alpha:   0.05,
			PValue:  "fisher",
			Records: []*engine.Record{rec},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	got, err := c.RunStudy(context.Background(), StudyRequest{Terms: []string{"GO:1"}})
	if err != nil {
		t.Fatalf("RunStudy() error = %v", err)
	}
	if got.StudyID != "s-1" || len(got.Records) != 1 {
		t.Fatalf("unexpected result %+v", got)
	}
	if p, ok := got.Records[0].PValue("bonferroni"); !ok || p != 0.25 {
		t.Errorf("bonferroni = %v (%v), want 0.25", p, ok)
	}
}

func TestClient_RunStudy_Invalid(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	if _, err := c.RunStudy(context.Background(), StudyRequest{}); err == nil {
		t.Error("expected error for empty terms")
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Status{Status: "ok", Version: "dev"})
	}))
	defer server.Close()

	c := NewClient(server.URL, fastRetry(3))
	status, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("Ping() status = %s, want ok", status.Status)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "study_not_found", "message": "missing"})
	}))
	defer server.Close()

	c := NewClient(server.URL, fastRetry(3))
	_, err := c.GetStudy(context.Background(), "missing")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "study_not_found" {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestClient_ListStudiesAndPopulation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/studies":
			if r.URL.Query().Get("limit") != "50" {
				t.Errorf("limit = %s, want 50", r.URL.Query().Get("limit"))
			}
			json.NewEncoder(w).Encode([]StudySummary{{StudyID: "s-2", RecordCount: 3}})
		case "/v1/population":
			json.NewEncoder(w).Encode(engine.Population{Terms: 12, Products: 4, Annotations: 21})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	list, err := c.ListStudies(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListStudies() error = %v", err)
	}
	if len(list) != 1 || list[0].StudyID != "s-2" || list[0].RecordCount != 3 {
		t.Errorf("unexpected list %+v", list)
	}

	pop, err := c.Population(context.Background())
	if err != nil {
		t.Fatalf("Population() error = %v", err)
	}
	if pop.Terms != 12 || pop.Products != 4 || pop.Annotations != 21 {
		t.Errorf("unexpected population %+v", pop)
	}
}

func TestClient_Report(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/reports/s-1" {
			t.Errorf("Expected path /v1/reports/s-1, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("product_id\nP1\n"))
	}))
	defer server.Close()

	body, err := NewClient(server.URL).Report(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if string(body) != "product_id\nP1\n" {
		t.Errorf("Report() = %q", body)
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(url, fastRetry(2))
	if _, err := c.Ping(context.Background()); err == nil {
		t.Error("expected error for unreachable daemon")
	}
}

func TestClient_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			t.Errorf("Expected path /v1/health, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(Status{Status: "ok", Version: "v1.0.0"})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	status, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	if status.Status != "ok" {
		t.Errorf("Ping() status = %s, want ok", status.Status)
	}
}
