package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"routerisk/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("CONFIG_PATH", "")
	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func writeTrack(t *testing.T, dir, name string) {
	t.Helper()
	data := "latitude,longitude\n21.1458,79.0882\n20.3,77.2\n18.5204,73.8567\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func multipartJob(t *testing.T, manifest, options string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("manifest", "manifest.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(manifest)); err != nil {
		t.Fatal(err)
	}
	if options != "" {
		if err := mw.WriteField("options", options); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestBulkJobForeground(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	writeTrack(t, dir, "NAG_PUN.csv")

	manifest := "origin code,origin name,destination code,destination name\n" +
		"NAG,Nagpur,PUN,Pune\n" +
		"BAD,Broken,,\n" // missing destination code -> row error
	opts := fmt.Sprintf(`{"inputFolderPath":%q,"interBatchPauseMs":1}`, dir)
	body, ctype := multipartJob(t, manifest, opts)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/bulk/jobs", body)
	req.Header.Set("Content-Type", ctype)
	s.BulkJobsHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("foreground submit: got %d: %s", rr.Code, rr.Body.String())
	}
	var sum model.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Status != model.StatusCompleted || sum.Successful != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	if len(sum.RowErrors) != 1 {
		t.Fatalf("row errors: %v", sum.RowErrors)
	}

	// The persisted result is fetchable by its id.
	rr = httptest.NewRecorder()
	s.BulkResultsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/bulk/jobs/results/"+sum.ResultID, nil))
	if rr.Code != 200 {
		t.Fatalf("results fetch: got %d", rr.Code)
	}

	// Status reports the terminal state.
	rr = httptest.NewRecorder()
	s.BulkStatusHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/bulk/jobs/status", nil))
	if rr.Code != 200 {
		t.Fatalf("status: got %d", rr.Code)
	}
	var state model.ProcessingState
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatal(err)
	}
	if state.Status != model.StatusCompleted {
		t.Fatalf("state: %+v", state)
	}
}

func TestBulkJobBackground(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	writeTrack(t, dir, "NAG_PUN.csv")

	manifest := "origin code,origin name,destination code,destination name\nNAG,Nagpur,PUN,Pune\n"
	opts := fmt.Sprintf(`{"inputFolderPath":%q,"backgroundProcessing":true,"interBatchPauseMs":1}`, dir)
	body, ctype := multipartJob(t, manifest, opts)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/bulk/jobs", body)
	req.Header.Set("Content-Type", ctype)
	s.BulkJobsHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("background submit: got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		JobID      string `json:"jobId"`
		TotalItems int    `json:"totalItems"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID == "" || resp.TotalItems != 1 {
		t.Fatalf("submit response: %+v", resp)
	}
}

func TestBulkJobBadRequests(t *testing.T) {
	s := newTestServer(t)

	// Wrong method
	rr := httptest.NewRecorder()
	s.BulkJobsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/bulk/jobs", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET jobs: got %d", rr.Code)
	}

	// Not multipart
	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/bulk/jobs", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	s.BulkJobsHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("non-multipart: got %d", rr.Code)
	}

	// Manifest with no runnable rows
	body, ctype := multipartJob(t, "origin code,origin name,destination code,destination name\n", "")
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/bulk/jobs", body)
	req.Header.Set("Content-Type", ctype)
	s.BulkJobsHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty manifest: got %d", rr.Code)
	}

	// Invalid options JSON
	body, ctype = multipartJob(t, "origin code,origin name,destination code,destination name\nA,a,B,b\n", "{not json")
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/bulk/jobs", body)
	req.Header.Set("Content-Type", ctype)
	s.BulkJobsHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad options: got %d", rr.Code)
	}
}

func TestBulkStatusNotFound(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.BulkStatusHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/bulk/jobs/status", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status without job: got %d", rr.Code)
	}
	var prob Problem
	if err := json.NewDecoder(rr.Body).Decode(&prob); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if prob.Type != "urn:routerisk:problem:no-bulk-job" || prob.Status != http.StatusNotFound {
		t.Fatalf("problem body: %+v", prob)
	}
	rr = httptest.NewRecorder()
	s.BulkCancelHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/bulk/jobs/cancel", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cancel without job: got %d", rr.Code)
	}
}

func TestBulkResultsNotFound(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.BulkResultsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/bulk/jobs/results/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown result: got %d", rr.Code)
	}
}

func TestBulkResumeValidation(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/bulk/jobs/resume", bytes.NewReader([]byte(`{}`)))
	s.BulkResumeHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("resume without jobId: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/bulk/jobs/resume", bytes.NewReader([]byte(`{"jobId":"missing","manifestItems":3}`)))
	s.BulkResumeHandler(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("resume unknown job: got %d", rr.Code)
	}
}

func TestSubscriptionsCreate(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"url":"https://example.com/hook","events":["bulk.job.completed"],"secret":"s3cret"}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader(body))
	s.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create subscription: got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader([]byte(`{"url":""}`)))
	s.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid subscription: got %d", rr.Code)
	}
}
