package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sentinel errors returned by queue operations.
var (
	// ErrJobNotFound is returned when no job hash exists for the given ID.
	ErrJobNotFound = errors.New("queue: job not found")

	// ErrNotFailed is returned by Retry when the job exists but is not in
	// the failed state. Only terminally failed jobs may be retried manually.
	ErrNotFailed = errors.New("queue: job is not in failed state")
)

// Options configures a Queue. Zero fields fall back to the documented
// defaults in applyDefaults.
type Options struct {
	// Name is the queue name used in the Redis keyspace (bull:<Name>:*).
	Name string

	// MaxAttempts is the default per-job attempt ceiling.
	MaxAttempts int

	// BackoffBase and BackoffCap bound the retry delay:
	// base * 2^(attempt-1), capped.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// StallWindow is how long a job may sit in the active set without
	// finishing before any worker may requeue it.
	StallWindow time.Duration

	// Retention policy. Completed jobs are removed when older than
	// CompletedAge or ranked beyond the newest CompletedCount (disjunction).
	// Failed jobs are removed when older than FailedAge.
	CompletedAge   time.Duration
	CompletedCount int
	FailedAge      time.Duration

	// EventsMaxLen caps the lifecycle event stream (approximate trim).
	EventsMaxLen int64
}

func (o *Options) applyDefaults() {
	if o.Name == "" {
		o.Name = "report-generation"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
	if o.StallWindow <= 0 {
		o.StallWindow = 30 * time.Minute
	}
	if o.CompletedAge <= 0 {
		o.CompletedAge = 24 * time.Hour
	}
	if o.CompletedCount <= 0 {
		o.CompletedCount = 1000
	}
	if o.FailedAge <= 0 {
		o.FailedAge = 7 * 24 * time.Hour
	}
	if o.EventsMaxLen <= 0 {
		o.EventsMaxLen = 1024
	}
}

// Counts is a snapshot of the queue depth per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}

// Queue is a durable job queue on top of Redis. All methods are safe for
// concurrent use; multiple processes may share one queue.
type Queue struct {
	rdb    *redis.Client
	opts   Options
	logger *zap.Logger

	mu        sync.RWMutex
	listeners []func(Event)

	metrics *metrics
}

// New creates a Queue bound to the given Redis client.
func New(rdb *redis.Client, opts Options, logger *zap.Logger) *Queue {
	opts.applyDefaults()
	return &Queue{
		rdb:     rdb,
		opts:    opts,
		logger:  logger.Named("queue"),
		metrics: newMetrics(opts.Name),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.opts.Name }

// DefaultMaxAttempts returns the queue-level attempt ceiling.
func (q *Queue) DefaultMaxAttempts() int { return q.opts.MaxAttempts }

// StallWindow returns the configured stall window.
func (q *Queue) StallWindow() time.Duration { return q.opts.StallWindow }

// Subscribe registers an in-process listener for lifecycle events. The
// listener must not block; it is invoked synchronously on the goroutine
// performing the state transition.
func (q *Queue) Subscribe(fn func(Event)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

func (q *Queue) emit(ev Event) {
	q.mu.RLock()
	listeners := q.listeners
	q.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (q *Queue) key(suffix string) string {
	return "bull:" + q.opts.Name + ":" + suffix
}

func (q *Queue) jobKey(id string) string {
	return q.key(id)
}

func (q *Queue) jobKeyPrefix() string {
	return "bull:" + q.opts.Name + ":"
}

// Enqueue creates a job and pushes it onto the waiting list. maxAttempts
// overrides the queue default when positive.
func (q *Queue) Enqueue(ctx context.Context, useCase, recipient string, filters map[string]string, maxAttempts int) (*Job, error) {
	if maxAttempts <= 0 {
		maxAttempts = q.opts.MaxAttempts
	}

	seq, err := q.rdb.Incr(ctx, q.key("id")).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: id generation: %w", err)
	}
	id := strconv.FormatInt(seq, 10)

	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal filters: %w", err)
	}

	now := time.Now()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id),
		fieldUseCase, useCase,
		fieldRecipient, recipient,
		fieldFilters, string(filtersJSON),
		fieldAttemptsMade, 0,
		fieldMaxAttempts, maxAttempts,
		fieldState, string(StateWaiting),
		fieldCreatedAt, now.UnixMilli(),
	)
	pipe.LPush(ctx, q.key("waiting"), id)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.key("events"),
		MaxLen: q.opts.EventsMaxLen,
		Approx: true,
		Values: map[string]any{"event": string(EventWaiting), "jobId": id, "ts": now.UnixMilli()},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue: enqueue job %s: %w", id, err)
	}

	q.metrics.enqueued.Inc()
	q.emit(Event{Type: EventWaiting, JobID: id, Timestamp: now})
	q.logger.Info("job enqueued",
		zap.String("job_id", id),
		zap.String("use_case", useCase),
		zap.Int("max_attempts", maxAttempts),
	)

	return &Job{
		ID:          id,
		UseCase:     useCase,
		Recipient:   recipient,
		Filters:     filters,
		MaxAttempts: maxAttempts,
		State:       StateWaiting,
		CreatedAt:   now,
	}, nil
}

// Lease blocks on the waiting list for up to timeout, atomically marks the
// popped ID active, and returns the job view. Returns (nil, nil) when the
// timeout elapses with nothing to do.
func (q *Queue) Lease(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key("waiting")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: lease: %w", err)
	}
	id := res[1]

	now := time.Now()
	ok, err := leaseScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("active"), q.key("events")},
		id, now.UnixMilli(), q.opts.EventsMaxLen,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("queue: lease job %s: %w", id, err)
	}
	if ok == 0 {
		// Hash is gone (cleaned up while the ID sat in the list); skip it.
		q.logger.Warn("leased id without job hash, dropping", zap.String("job_id", id))
		return nil, nil
	}

	q.emit(Event{Type: EventActive, JobID: id, Timestamp: now})
	return q.GetJob(ctx, id)
}

// Complete finishes a job successfully and records its result JSON.
func (q *Queue) Complete(ctx context.Context, id, result string) error {
	now := time.Now()
	_, err := completeScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("active"), q.key("completed"), q.key("stalled-check"), q.key("events")},
		id, now.UnixMilli(), result, q.opts.EventsMaxLen,
	).Result()
	if err != nil {
		return fmt.Errorf("queue: complete job %s: %w", id, err)
	}
	q.metrics.completed.Inc()
	q.emit(Event{Type: EventCompleted, JobID: id, Timestamp: now})
	return nil
}

// Fail records a failed attempt. When attempts remain the job is scheduled
// for retry with exponential backoff and terminal is false; otherwise the
// job is moved to the failed set and terminal is true.
func (q *Queue) Fail(ctx context.Context, id, reason string) (terminal bool, attempts int, err error) {
	now := time.Now()
	res, err := failScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("active"), q.key("delayed"), q.key("failed"), q.key("stalled-check"), q.key("events")},
		id, now.UnixMilli(), reason,
		q.opts.BackoffBase.Milliseconds(), q.opts.BackoffCap.Milliseconds(),
		q.opts.EventsMaxLen,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("queue: fail job %s: %w", id, err)
	}

	terminal = res[0] == 1
	attempts = int(res[1])

	if terminal {
		q.metrics.failed.Inc()
		q.emit(Event{Type: EventFailed, JobID: id, Timestamp: now, Reason: reason})
		q.logger.Warn("job failed terminally",
			zap.String("job_id", id),
			zap.Int("attempts_made", attempts),
			zap.String("reason", reason),
		)
	} else {
		q.metrics.retried.Inc()
		q.emit(Event{Type: EventRetrying, JobID: id, Timestamp: now, Reason: reason})
		q.logger.Info("job scheduled for retry",
			zap.String("job_id", id),
			zap.Int("attempts_made", attempts),
			zap.Time("run_at", time.UnixMilli(res[2])),
		)
	}
	return terminal, attempts, nil
}

// PromoteDelayed moves up to limit due jobs from the delayed set back to
// the waiting list. Called periodically by the maintenance scheduler.
func (q *Queue) PromoteDelayed(ctx context.Context, limit int) (int, error) {
	now := time.Now()
	n, err := promoteScript.Run(ctx, q.rdb,
		[]string{q.key("delayed"), q.key("waiting"), q.key("events")},
		now.UnixMilli(), limit, q.jobKeyPrefix(), q.opts.EventsMaxLen,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: promote delayed: %w", err)
	}
	if n > 0 {
		q.logger.Debug("promoted delayed jobs", zap.Int("count", n))
	}
	return n, nil
}

// RequeueStalled returns active jobs that exceeded the stall window to the
// waiting list. Uses a mark set: an active ID is marked on the first sweep
// and requeued on a later sweep only if it is still active and its lease
// is older than the window, so a job is never requeued during its first
// sweep interval.
func (q *Queue) RequeueStalled(ctx context.Context) (int, error) {
	active, err := q.rdb.SMembers(ctx, q.key("active")).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: list active: %w", err)
	}
	if len(active) == 0 {
		return 0, nil
	}

	marked, err := q.rdb.SMembers(ctx, q.key("stalled-check")).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: list stalled-check: %w", err)
	}
	markedSet := make(map[string]bool, len(marked))
	for _, id := range marked {
		markedSet[id] = true
	}

	now := time.Now()
	requeued := 0
	for _, id := range active {
		processedOn, err := q.rdb.HGet(ctx, q.jobKey(id), fieldProcessedOn).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return requeued, fmt.Errorf("queue: read processedOn for %s: %w", id, err)
		}
		stale := processedOn > 0 && now.Sub(time.UnixMilli(processedOn)) > q.opts.StallWindow

		if markedSet[id] && stale {
			ok, err := requeueStalledScript.Run(ctx, q.rdb,
				[]string{q.jobKey(id), q.key("active"), q.key("waiting"), q.key("stalled-check"), q.key("events")},
				id, now.UnixMilli(), q.opts.EventsMaxLen,
			).Int()
			if err != nil {
				return requeued, fmt.Errorf("queue: requeue stalled %s: %w", id, err)
			}
			if ok == 1 {
				requeued++
				q.metrics.stalled.Inc()
				q.emit(Event{Type: EventStalled, JobID: id, Timestamp: now})
				q.logger.Warn("requeued stalled job", zap.String("job_id", id))
			}
			continue
		}
		if !markedSet[id] {
			if err := q.rdb.SAdd(ctx, q.key("stalled-check"), id).Err(); err != nil {
				return requeued, fmt.Errorf("queue: mark stalled-check %s: %w", id, err)
			}
		}
	}
	return requeued, nil
}

// Retry promotes a terminally failed job back to the waiting list,
// preserving attemptsMade. Only valid for jobs in the failed state.
func (q *Queue) Retry(ctx context.Context, id string) error {
	exists, err := q.rdb.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("queue: retry job %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	now := time.Now()
	ok, err := retryScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("failed"), q.key("waiting"), q.key("events")},
		id, now.UnixMilli(), q.opts.EventsMaxLen,
	).Int()
	if err != nil {
		return fmt.Errorf("queue: retry job %s: %w", id, err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", ErrNotFailed, id)
	}

	q.emit(Event{Type: EventWaiting, JobID: id, Timestamp: now})
	q.logger.Info("failed job manually requeued", zap.String("job_id", id))
	return nil
}

// GetJob returns the current view of a job, or ErrJobNotFound.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	h, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get job %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return jobFromHash(id, h)
}

// Counts returns the queue depth per state. Also refreshes the depth
// gauges.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, q.key("waiting"))
	active := pipe.SCard(ctx, q.key("active"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue: counts: %w", err)
	}

	c := Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}
	c.Total = c.Waiting + c.Active + c.Completed + c.Failed + c.Delayed
	q.metrics.observeDepth(c)
	return c, nil
}

// Clean applies the retention policy: completed jobs older than
// CompletedAge or beyond the newest CompletedCount, and failed jobs older
// than FailedAge, are removed together with their hashes. Returns the
// number of jobs removed.
func (q *Queue) Clean(ctx context.Context) (int, error) {
	now := time.Now()
	removed := 0

	// Completed: age limit.
	n, err := q.removeOlderThan(ctx, q.key("completed"), now.Add(-q.opts.CompletedAge))
	if err != nil {
		return removed, err
	}
	removed += n

	// Completed: count cap. Oldest entries rank lowest in the zset.
	total, err := q.rdb.ZCard(ctx, q.key("completed")).Result()
	if err != nil {
		return removed, fmt.Errorf("queue: clean: %w", err)
	}
	if excess := total - int64(q.opts.CompletedCount); excess > 0 {
		ids, err := q.rdb.ZRange(ctx, q.key("completed"), 0, excess-1).Result()
		if err != nil {
			return removed, fmt.Errorf("queue: clean: %w", err)
		}
		if err := q.removeJobs(ctx, q.key("completed"), ids); err != nil {
			return removed, err
		}
		removed += len(ids)
	}

	// Failed: age limit.
	n, err = q.removeOlderThan(ctx, q.key("failed"), now.Add(-q.opts.FailedAge))
	if err != nil {
		return removed, err
	}
	removed += n

	if removed > 0 {
		q.logger.Info("queue cleanup removed jobs", zap.Int("count", removed))
	}
	return removed, nil
}

func (q *Queue) removeOlderThan(ctx context.Context, zsetKey string, cutoff time.Time) (int, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, zsetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: clean %s: %w", zsetKey, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := q.removeJobs(ctx, zsetKey, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (q *Queue) removeJobs(ctx context.Context, zsetKey string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, zsetKey, id)
		pipe.Del(ctx, q.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: remove jobs: %w", err)
	}
	return nil
}
