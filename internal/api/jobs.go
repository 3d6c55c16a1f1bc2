package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/config"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/queue"
)

// WorkerInfo is the slice of the worker the stats endpoint reports on.
type WorkerInfo interface {
	Running() bool
	Concurrency() int
}

// JobHandler serves job submission, introspection and queue management.
type JobHandler struct {
	queue    *queue.Queue
	registry *config.Registry
	worker   WorkerInfo
	validate *validator.Validate
	logger   *zap.Logger
}

// NewJobHandler creates the handler.
func NewJobHandler(q *queue.Queue, registry *config.Registry, worker WorkerInfo, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		queue:    q,
		registry: registry,
		worker:   worker,
		validate: validator.New(),
		logger:   logger.Named("api"),
	}
}

// submitRequest is the POST /jobs body.
type submitRequest struct {
	UseCase string            `json:"useCase" validate:"required"`
	Email   string            `json:"email" validate:"required,email"`
	Filters map[string]string `json:"filters"`
}

// jobView is the client-facing projection of a job. Status collapses the
// queue states: waiting and delayed present as pending.
type jobView struct {
	JobID        string     `json:"jobId"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"maxAttempts"`
	CreatedAt    time.Time  `json:"createdAt"`
	ProcessedOn  *time.Time `json:"processedOn,omitempty"`
	FinishedOn   *time.Time `json:"finishedOn,omitempty"`
	FailedReason string     `json:"failedReason,omitempty"`
	Result       string     `json:"result,omitempty"`
}

func viewOf(j *queue.Job) jobView {
	return jobView{
		JobID:        j.ID,
		Status:       publicStatus(j.State),
		Attempts:     j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
		CreatedAt:    j.CreatedAt,
		ProcessedOn:  j.ProcessedOn,
		FinishedOn:   j.FinishedOn,
		FailedReason: j.FailedReason,
		Result:       j.Result,
	}
}

func publicStatus(s queue.State) string {
	switch s {
	case queue.StateActive:
		return "processing"
	case queue.StateCompleted:
		return "completed"
	case queue.StateFailed:
		return "failed"
	default: // waiting, delayed
		return "pending"
	}
}

// Submit handles POST /api/v1/jobs: validates the request, checks the use
// case against the registry, and enqueues. Responds 202 with the job ID.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ErrBadRequest(w, "useCase and a valid email are required")
		return
	}
	if _, err := h.registry.UseCaseMeta(req.UseCase); err != nil {
		ErrBadRequest(w, "unknown use case "+req.UseCase+"; known: "+strings.Join(h.registry.UseCases(), ", "))
		return
	}

	job, err := h.queue.Enqueue(r.Context(), req.UseCase, req.Email, req.Filters, 0)
	if err != nil {
		h.logger.Error("enqueue failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	h.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("use_case", job.UseCase),
		zap.String("recipient", job.Recipient),
	)
	Accepted(w, envelope{
		"message": "report generation queued",
		"jobId":   job.ID,
	})
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("job lookup failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, viewOf(job))
}

// Stats handles GET /api/v1/jobs/queue/stats.
func (h *JobHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Counts(r.Context())
	if err != nil {
		h.logger.Error("queue stats failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{
		"stats": envelope{
			"waiting":   counts.Waiting,
			"active":    counts.Active,
			"completed": counts.Completed,
			"failed":    counts.Failed,
			"delayed":   counts.Delayed,
			"total":     counts.Total,
			"config": envelope{
				"concurrency":   h.worker.Concurrency(),
				"maxAttempts":   h.queue.DefaultMaxAttempts(),
				"workerRunning": h.worker.Running(),
			},
		},
		"timestamp": time.Now().UTC(),
	})
}

// Cleanup handles POST /api/v1/jobs/queue/cleanup: requeues stalled jobs
// and applies the TTL retention policy.
func (h *JobHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	requeued, err := h.queue.RequeueStalled(r.Context())
	if err != nil {
		h.logger.Error("stalled requeue failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	removed, err := h.queue.Clean(r.Context())
	if err != nil {
		h.logger.Error("queue clean failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{
		"requeuedStalled": requeued,
		"removed":         removed,
	})
}

// Retry handles POST /api/v1/jobs/{jobID}/retry. Only failed jobs may be
// retried; the attempts count is preserved.
func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	err := h.queue.Retry(r.Context(), id)
	switch {
	case err == nil:
		Ok(w, envelope{"message": "job requeued", "jobId": id})
	case errors.Is(err, queue.ErrJobNotFound):
		ErrNotFound(w)
	case errors.Is(err, queue.ErrNotFailed):
		ErrConflict(w, "only failed jobs can be retried")
	default:
		h.logger.Error("retry failed", zap.String("job_id", id), zap.Error(err))
		ErrInternal(w)
	}
}
