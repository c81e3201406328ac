package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"routerisk/internal/bulk"
	"routerisk/internal/manifest"
	"routerisk/internal/store"
)

// BulkJobsHandler handles POST /v1/bulk/jobs: a multipart upload with a
// "manifest" file part and an optional "options" JSON part.
func (s *Server) BulkJobsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid multipart body", err.Error(), r.URL.Path)
		return
	}
	file, _, err := r.FormFile("manifest")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Missing manifest part", err.Error(), r.URL.Path)
		return
	}
	defer func() { _ = file.Close() }()

	var opts bulk.Options
	if raw := r.FormValue("options"); raw != "" {
		if err := json.NewDecoder(strings.NewReader(raw)).Decode(&opts); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid options JSON", err.Error(), r.URL.Path)
			return
		}
	}

	items, rowErrors, err := manifest.Parse(file)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Manifest unreadable", err.Error(), r.URL.Path)
		return
	}
	if len(items) == 0 {
		writeProblem(w, http.StatusBadRequest, "Empty manifest", "no runnable rows", r.URL.Path)
		return
	}

	if opts.BackgroundProcessing {
		job, err := s.Bulk.Submit(p.Owner, items, rowErrors, opts)
		if err != nil {
			s.writeSubmitError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"jobId":          job.ID,
			"totalItems":     len(items),
			"rowErrors":      len(rowErrors),
			"statusEndpoint": "/v1/bulk/jobs/status",
		})
		return
	}

	sum, err := s.Bulk.RunSync(r.Context(), p.Owner, items, rowErrors, opts)
	if err != nil && sum.ResultID == "" {
		s.writeSubmitError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, bulk.ErrJobActive):
		writeProblem(w, http.StatusConflict, "Job already active", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, "Job submission failed", err.Error(), r.URL.Path)
	}
}

// BulkStatusHandler handles GET /v1/bulk/jobs/status.
func (s *Server) BulkStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	state, err := s.Bulk.Status(p.Owner)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "No bulk job", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// BulkCancelHandler handles POST /v1/bulk/jobs/cancel. Cancellation is
// asynchronous: dispatched batches settle before the job goes terminal.
func (s *Server) BulkCancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if err := s.Bulk.Cancel(p.Owner); err != nil {
		writeProblem(w, http.StatusNotFound, "No active bulk job", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

// BulkResumeHandler handles POST /v1/bulk/jobs/resume: validates a checkpoint
// against the manifest being resubmitted and returns the resume point. The
// actual re-run goes back through job submission with resumeFromIndex.
func (s *Server) BulkResumeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		JobID         string       `json:"jobId"`
		ManifestItems int          `json:"manifestItems"`
		Options       bulk.Options `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.JobID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing jobId", "", r.URL.Path)
		return
	}
	cp, err := s.Bulk.ResumePoint(r.Context(), req.JobID, req.ManifestItems, req.Options)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "No checkpoint", err.Error(), r.URL.Path)
		return
	case errors.Is(err, bulk.ErrCheckpointMismatch):
		writeProblem(w, http.StatusConflict, "Checkpoint mismatch", err.Error(), r.URL.Path)
		return
	case err != nil:
		writeProblem(w, http.StatusInternalServerError, "Resume lookup failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resumeFromIndex": cp.ResumeIndex,
		"completedCount":  cp.CompletedCount,
		"totalItems":      cp.TotalItems,
		"state":           cp.State,
	})
}

// BulkResultsHandler handles GET /v1/bulk/jobs/results/{resultId}.
func (s *Server) BulkResultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/bulk/jobs/results/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing result id", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	sum, err := s.Store.GetSummary(r.Context(), p.Owner, id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Result not found", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// SubscriptionsHandler handles POST /v1/subscriptions for job lifecycle
// webhooks.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
		Secret string   `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.URL == "" || len(req.Events) == 0 {
		writeProblem(w, http.StatusBadRequest, "Missing url or events", "", r.URL.Path)
		return
	}
	sub, err := s.Store.CreateSubscription(r.Context(), store.Subscription{
		OwnerID: p.Owner, URL: req.URL, Events: req.Events, Secret: req.Secret,
	})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// HealthHandler handles GET /healthz.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler handles GET /readyz.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Ready(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
