// Package worker drives the queue: it leases jobs with a bounded in-flight
// count, runs the report processor, records the outcome, and owns the
// queue maintenance ticks (delayed promotion, stalled requeue, TTL clean).
//
// Multiple worker processes may share one queue; leases are exclusive and
// the maintenance operations are safe to run from every instance.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/queue"
)

// ErrDrainTimeout is returned by Stop when in-flight jobs did not finish
// within the drain window. The process should exit non-zero.
var ErrDrainTimeout = errors.New("worker: drain timeout exceeded")

// Processor executes one job and handles its terminal failure.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) (string, error)
	OnTerminalFailure(ctx context.Context, job *queue.Job, reason string)
}

// Options tunes the worker. Zero values pick the defaults.
type Options struct {
	Concurrency  int           // max in-flight jobs, default 5
	LeaseTimeout time.Duration // BRPOP block per lease poll, default 5s
	DrainTimeout time.Duration // grace for in-flight jobs on Stop, default 10s

	PromoteEvery time.Duration // delayed promotion tick, default 1s
	StalledEvery time.Duration // stalled sweep tick, default 1m
	CleanEvery   time.Duration // TTL cleanup tick, default 5m
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 5 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 10 * time.Second
	}
	if o.PromoteEvery <= 0 {
		o.PromoteEvery = time.Second
	}
	if o.StalledEvery <= 0 {
		o.StalledEvery = time.Minute
	}
	if o.CleanEvery <= 0 {
		o.CleanEvery = 5 * time.Minute
	}
}

// Worker leases and executes jobs. Create with New, then Start/Stop.
type Worker struct {
	id     string
	q      *queue.Queue
	proc   Processor
	opts   Options
	logger *zap.Logger
	cron   gocron.Scheduler

	leaseCancel context.CancelFunc
	jobCancel   context.CancelFunc
	loopDone    chan struct{}
	inFlight    sync.WaitGroup
	running     atomic.Bool
}

// New creates a Worker and registers the maintenance jobs.
func New(q *queue.Queue, proc Processor, opts Options, logger *zap.Logger) (*Worker, error) {
	opts.applyDefaults()

	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	w := &Worker{
		id:     uuid.NewString(),
		q:      q,
		proc:   proc,
		opts:   opts,
		logger: logger.Named("worker"),
		cron:   cron,
	}
	if err := w.addMaintenance(); err != nil {
		return nil, err
	}
	return w, nil
}

// Concurrency returns the configured in-flight bound.
func (w *Worker) Concurrency() int { return w.opts.Concurrency }

// Running reports whether the lease loop is active.
func (w *Worker) Running() bool { return w.running.Load() }

// Start launches the lease loop and the maintenance scheduler.
func (w *Worker) Start() {
	leaseCtx, leaseCancel := context.WithCancel(context.Background())
	jobCtx, jobCancel := context.WithCancel(context.Background())
	w.leaseCancel = leaseCancel
	w.jobCancel = jobCancel
	w.loopDone = make(chan struct{})
	w.running.Store(true)

	w.cron.Start()
	go w.leaseLoop(leaseCtx, jobCtx)

	w.logger.Info("worker started",
		zap.String("worker_id", w.id),
		zap.String("queue", w.q.Name()),
		zap.Int("concurrency", w.opts.Concurrency),
	)
}

// Stop halts leasing and waits for in-flight jobs up to the drain timeout.
// Jobs still running after the window are cancelled and ErrDrainTimeout is
// returned; their lease will eventually be recovered by stalled detection.
func (w *Worker) Stop() error {
	w.running.Store(false)
	w.leaseCancel()
	<-w.loopDone

	if err := w.cron.Shutdown(); err != nil {
		w.logger.Warn("maintenance scheduler shutdown error", zap.Error(err))
	}

	drained := make(chan struct{})
	go func() {
		w.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		w.logger.Info("worker drained", zap.String("worker_id", w.id))
		return nil
	case <-time.After(w.opts.DrainTimeout):
		w.jobCancel()
		w.logger.Error("worker drain timeout exceeded",
			zap.String("worker_id", w.id),
			zap.Duration("timeout", w.opts.DrainTimeout),
		)
		return ErrDrainTimeout
	}
}

// leaseLoop blocks on the waiting list and hands leased jobs to the
// bounded executor. A channel semaphore enforces the in-flight cap; the
// loop holds a slot before it leases so a full worker never strands an
// already-leased job.
func (w *Worker) leaseLoop(leaseCtx, jobCtx context.Context) {
	defer close(w.loopDone)
	slots := make(chan struct{}, w.opts.Concurrency)

	for {
		select {
		case <-leaseCtx.Done():
			return
		case slots <- struct{}{}:
		}

		job, err := w.q.Lease(leaseCtx, w.opts.LeaseTimeout)
		if err != nil {
			<-slots
			if leaseCtx.Err() != nil {
				return
			}
			w.logger.Error("lease failed", zap.Error(err))
			// Redis hiccup; back off briefly instead of spinning.
			select {
			case <-leaseCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			<-slots
			continue
		}

		w.inFlight.Add(1)
		go func(job *queue.Job) {
			defer func() {
				<-slots
				w.inFlight.Done()
			}()
			w.execute(jobCtx, job)
		}(job)
	}
}

// execute runs one job and records the outcome. State writes use a fresh
// short-lived context so a shutdown cannot lose an already-finished job.
func (w *Worker) execute(ctx context.Context, job *queue.Job) {
	log := w.logger.With(zap.String("job_id", job.ID), zap.String("use_case", job.UseCase))
	log.Info("job started", zap.Int("attempt", job.AttemptsMade+1), zap.Int("max_attempts", job.MaxAttempts))

	result, procErr := w.proc.Process(ctx, job)

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if procErr == nil {
		if err := w.q.Complete(writeCtx, job.ID, result); err != nil {
			log.Error("completion write failed", zap.Error(err))
			return
		}
		log.Info("job completed")
		return
	}

	terminal, attempts, err := w.q.Fail(writeCtx, job.ID, procErr.Error())
	if err != nil {
		log.Error("failure write failed", zap.Error(err), zap.NamedError("cause", procErr))
		return
	}
	if !terminal {
		log.Warn("job attempt failed, retry scheduled",
			zap.Int("attempts_made", attempts),
			zap.Error(procErr),
		)
		return
	}

	log.Error("job failed terminally", zap.Int("attempts_made", attempts), zap.Error(procErr))
	w.proc.OnTerminalFailure(writeCtx, job, procErr.Error())
}

// addMaintenance registers the three periodic queue chores. Singleton mode
// keeps a slow Redis call from stacking ticks.
func (w *Worker) addMaintenance() error {
	type chore struct {
		name  string
		every time.Duration
		run   func(ctx context.Context) (int, error)
	}
	chores := []chore{
		{"promote-delayed", w.opts.PromoteEvery, func(ctx context.Context) (int, error) {
			return w.q.PromoteDelayed(ctx, 100)
		}},
		{"requeue-stalled", w.opts.StalledEvery, func(ctx context.Context) (int, error) {
			return w.q.RequeueStalled(ctx)
		}},
		{"clean-finished", w.opts.CleanEvery, func(ctx context.Context) (int, error) {
			return w.q.Clean(ctx)
		}},
	}

	for _, c := range chores {
		c := c
		_, err := w.cron.NewJob(
			gocron.DurationJob(c.every),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				n, err := c.run(ctx)
				if err != nil {
					w.logger.Error("maintenance run failed", zap.String("chore", c.name), zap.Error(err))
					return
				}
				if n > 0 {
					w.logger.Info("maintenance run", zap.String("chore", c.name), zap.Int("affected", n))
				}
			}),
			gocron.WithTags(c.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
