// Package queue implements the durable, Redis-backed job queue. The Redis
// keyspace is the only persistent state of the service; every job state
// transition goes through a Lua script so that an ID is never present in
// two state structures at once, even with multiple worker processes
// sharing the queue.
//
// Keyspace for a queue named Q:
//
//	bull:Q:<id>          — hash with the job fields
//	bull:Q:id            — integer counter for ID generation
//	bull:Q:waiting       — list of waiting job IDs (LPUSH / BRPOP)
//	bull:Q:active        — set of IDs currently leased
//	bull:Q:completed     — sorted set, score = completion time (unix ms)
//	bull:Q:failed        — sorted set, score = failure time (unix ms)
//	bull:Q:delayed       — sorted set, score = earliest run time (unix ms)
//	bull:Q:stalled-check — mark set used by stalled detection
//	bull:Q:events        — capped stream of lifecycle events
package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// Job is the materialized view of a job hash. It is a snapshot: the queue
// in Redis remains the source of truth and the struct is never written
// back wholesale.
type Job struct {
	ID        string
	UseCase   string
	Recipient string
	Filters   map[string]string

	AttemptsMade int
	MaxAttempts  int
	State        State

	CreatedAt    time.Time
	ProcessedOn  *time.Time
	FinishedOn   *time.Time
	Result       string
	FailedReason string
}

// Hash field names of the job hash. Shared between Go and the Lua scripts.
const (
	fieldUseCase      = "useCase"
	fieldRecipient    = "recipient"
	fieldFilters      = "filters"
	fieldAttemptsMade = "attemptsMade"
	fieldMaxAttempts  = "maxAttempts"
	fieldState        = "state"
	fieldCreatedAt    = "createdAt"
	fieldProcessedOn  = "processedOn"
	fieldFinishedOn   = "finishedOn"
	fieldResult       = "result"
	fieldFailedReason = "failedReason"
)

// jobFromHash rebuilds a Job from an HGETALL result.
func jobFromHash(id string, h map[string]string) (*Job, error) {
	j := &Job{
		ID:           id,
		UseCase:      h[fieldUseCase],
		Recipient:    h[fieldRecipient],
		State:        State(h[fieldState]),
		Result:       h[fieldResult],
		FailedReason: h[fieldFailedReason],
	}

	if raw := h[fieldFilters]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &j.Filters); err != nil {
			return nil, fmt.Errorf("queue: job %s has corrupt filters field: %w", id, err)
		}
	}

	var err error
	if j.AttemptsMade, err = atoiField(h, fieldAttemptsMade); err != nil {
		return nil, fmt.Errorf("queue: job %s: %w", id, err)
	}
	if j.MaxAttempts, err = atoiField(h, fieldMaxAttempts); err != nil {
		return nil, fmt.Errorf("queue: job %s: %w", id, err)
	}

	if ms, err := atoiField(h, fieldCreatedAt); err == nil && ms > 0 {
		j.CreatedAt = time.UnixMilli(int64(ms))
	}
	if ms, err := atoiField(h, fieldProcessedOn); err == nil && ms > 0 {
		t := time.UnixMilli(int64(ms))
		j.ProcessedOn = &t
	}
	if ms, err := atoiField(h, fieldFinishedOn); err == nil && ms > 0 {
		t := time.UnixMilli(int64(ms))
		j.FinishedOn = &t
	}

	return j, nil
}

func atoiField(h map[string]string, field string) (int, error) {
	v := h[field]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("field %s is not numeric: %q", field, v)
	}
	return n, nil
}

// EventType identifies a lifecycle event on the queue's event stream.
type EventType string

const (
	EventWaiting   EventType = "waiting"
	EventActive    EventType = "active"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventRetrying  EventType = "retrying"
	EventStalled   EventType = "stalled"
)

// Event is one lifecycle event. Events are appended to the capped Redis
// stream and also fanned out in-process to any registered listener.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"jobId"`
	Timestamp time.Time `json:"timestamp"`

	// Reason carries the failure reason for failed/retrying events.
	Reason string `json:"reason,omitempty"`
}
