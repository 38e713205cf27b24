package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/intranda/goobi-plugin-step-reorder-images/internal/queue"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/reorder"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/statuscheck"
	"github.com/intranda/goobi-plugin-step-reorder-images/internal/store"
)

type Queue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	CancelJob(ctx context.Context, jobID string) error
}

type Status struct {
	Status   string
	Progress int
	Message  string
	Start    *time.Time
	End      *time.Time
	Metadata map[string]any
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st Status) error
	Get(ctx context.Context, jobID string) (Status, bool, error)
	// Transition writes st only while the job is in state from.
	Transition(ctx context.Context, jobID, from string, st Status) (bool, error)
}

type LogStore interface {
	Log(ctx context.Context, jobID string) ([]store.LogEntry, error)
}

type PageStore interface {
	Pages(ctx context.Context, jobID string) ([]reorder.Operation, error)
}

type Checker interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Dependencies struct {
	Queue   Queue
	Status  StatusStore
	Logs    LogStore
	Pages   PageStore
	Checker Checker
	Metrics http.Handler
}

type Orchestrator struct {
	deps Dependencies
}

func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// Handler returns the API router.
func (o *Orchestrator) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if o.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.deps.Metrics)
	}
	r.Get("/status", o.handleStatus)
	r.Post("/reorder", o.handleReorder)
	r.Get("/progress/{jobID}", o.handleProgress)
	r.Get("/jobs/{jobID}/log", o.handleLog)
	r.Get("/jobs/{jobID}/pages", o.handlePages)
	r.Post("/webhook/cancel_job", o.handleCancelJob)
	return r
}

type reorderReq struct {
	ProcessID    int           `json:"process_id"`
	ProcessTitle string        `json:"process_title"`
	Project      string        `json:"project"`
	Step         string        `json:"step"`
	ImagesDir    string        `json:"images_dir"`
	SourceDir    string        `json:"source_dir"`
	TargetDir    string        `json:"target_dir"`
	Options      queue.Options `json:"options"`
}

type reorderResp struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (o *Orchestrator) handleReorder(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req reorderReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ImagesDir) == "" {
		http.Error(w, "missing images_dir", http.StatusBadRequest)
		return
	}
	if p := req.Options.OddPolicy; p != "" && p != string(reorder.OddStrict) && p != string(reorder.OddRoundUp) {
		http.Error(w, fmt.Sprintf("unknown odd_policy %q", p), http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	job := queue.Job{
		JobID:        jobID,
		ProcessID:    req.ProcessID,
		ProcessTitle: req.ProcessTitle,
		Project:      req.Project,
		Step:         req.Step,
		ImagesDir:    req.ImagesDir,
		SourceDir:    req.SourceDir,
		TargetDir:    req.TargetDir,
		Options:      req.Options,
	}
	start := time.Now()
	if err := o.deps.Status.Set(r.Context(), jobID, Status{Status: store.StatusQueued, Message: "queued", Start: &start,
		Metadata: map[string]any{"process_id": req.ProcessID, "images_dir": req.ImagesDir}}); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("status store unavailable")
		http.Error(w, "status store unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := o.deps.Queue.Enqueue(r.Context(), job); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("enqueue failed")
		end := time.Now()
		_ = o.deps.Status.Set(r.Context(), jobID, Status{Status: store.StatusFailed, Progress: 100, Message: "enqueue failed", Start: &start, End: &end})
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Info().Str("job_id", jobID).Int("process_id", req.ProcessID).Str("images_dir", req.ImagesDir).Msg("job created")
	writeJSON(w, http.StatusCreated, reorderResp{Status: "ok", JobID: jobID, Message: "Reorder job created"})
}

func (o *Orchestrator) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    st.Status == store.StatusDone,
		"job_id":     id,
		"status":     st.Status,
		"progress":   st.Progress,
		"message":    st.Message,
		"start_time": st.Start,
		"end_time":   st.End,
		"metadata":   st.Metadata,
	})
}

func (o *Orchestrator) handleLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if o.deps.Logs == nil {
		http.Error(w, "not available", http.StatusNotImplemented)
		return
	}
	entries, err := o.deps.Logs.Log(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "entries": entries})
}

func (o *Orchestrator) handlePages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if o.deps.Pages == nil {
		http.Error(w, "not available", http.StatusNotImplemented)
		return
	}
	pages, err := o.deps.Pages.Pages(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if len(pages) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "pages": pages})
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
	if o.deps.Checker == nil {
		http.Error(w, "not available", http.StatusNotImplemented)
		return
	}
	sum := o.deps.Checker.Summary(r.Context())
	code := http.StatusOK
	if !sum.Redis.OK || !sum.Images.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

type cancelReq struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason,omitempty"`
}

// handleCancelJob only cancels jobs still waiting in the queue; a running
// reorder is never interrupted.
func (o *Orchestrator) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.JobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}
	st, ok, err := o.deps.Status.Get(r.Context(), req.JobID)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if st.Status != store.StatusQueued {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "job_id": req.JobID, "status": st.Status})
		return
	}
	st.Status = store.StatusCancelled
	if req.Reason != "" {
		st.Message = fmt.Sprintf("Cancelled: %s", req.Reason)
	} else {
		st.Message = "Cancelled"
	}
	now := time.Now()
	st.End = &now
	// a worker may have picked the job up since the read above
	ok, err = o.deps.Status.Transition(r.Context(), req.JobID, store.StatusQueued, st)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "job_id": req.JobID, "status": store.StatusProcessing})
		return
	}
	if err := o.deps.Queue.CancelJob(r.Context(), req.JobID); err != nil {
		log.Warn().Err(err).Str("job_id", req.JobID).Msg("cancel flag not stored")
	}
	log.Info().Str("job_id", req.JobID).Str("reason", req.Reason).Msg("job cancelled")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job_id": req.JobID, "status": store.StatusCancelled})
}
