package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/queue"
)

// stubProcessor scripts outcomes per call and records terminal failures.
type stubProcessor struct {
	mu       sync.Mutex
	outcomes []error // nil = success; consumed in call order, last repeats
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	block    time.Duration

	terminalMu    sync.Mutex
	terminalJobs  []string
	terminalCause []string
}

func (p *stubProcessor) Process(ctx context.Context, job *queue.Job) (string, error) {
	cur := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		max := p.maxSeen.Load()
		if cur <= max || p.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if p.block > 0 {
		select {
		case <-time.After(p.block):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	n := p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := int(n) - 1
	if idx >= len(p.outcomes) {
		idx = len(p.outcomes) - 1
	}
	if idx >= 0 && p.outcomes[idx] != nil {
		return "", p.outcomes[idx]
	}
	return `{"success":true}`, nil
}

func (p *stubProcessor) OnTerminalFailure(_ context.Context, job *queue.Job, reason string) {
	p.terminalMu.Lock()
	defer p.terminalMu.Unlock()
	p.terminalJobs = append(p.terminalJobs, job.ID)
	p.terminalCause = append(p.terminalCause, reason)
}

func newTestWorker(t *testing.T, proc Processor, opts Options) (*Worker, *queue.Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := queue.New(rdb, queue.Options{
		Name:        "test",
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}, zap.NewNop())

	if opts.LeaseTimeout == 0 {
		opts.LeaseTimeout = 50 * time.Millisecond
	}
	if opts.PromoteEvery == 0 {
		opts.PromoteEvery = 10 * time.Millisecond
	}
	w, err := New(q, proc, opts, zap.NewNop())
	require.NoError(t, err)
	return w, q
}

func waitForState(t *testing.T, q *queue.Queue, id string, want queue.State) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.GetJob(context.Background(), id)
		require.NoError(t, err)
		if job.State == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached state %s", id, want)
	return nil
}

func TestWorkerCompletesJobs(t *testing.T) {
	proc := &stubProcessor{outcomes: []error{nil}}
	w, q := newTestWorker(t, proc, Options{Concurrency: 2})
	ctx := context.Background()

	j1, err := q.Enqueue(ctx, "POLITICAL_SNAPSHOT", "a@b.co", nil, 0)
	require.NoError(t, err)
	j2, err := q.Enqueue(ctx, "RETAIL_SNAPSHOT", "c@d.co", nil, 0)
	require.NoError(t, err)

	w.Start()
	defer func() { require.NoError(t, w.Stop()) }()

	done1 := waitForState(t, q, j1.ID, queue.StateCompleted)
	done2 := waitForState(t, q, j2.ID, queue.StateCompleted)
	assert.Equal(t, `{"success":true}`, done1.Result)
	assert.Equal(t, `{"success":true}`, done2.Result)
	assert.True(t, w.Running())
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	proc := &stubProcessor{outcomes: []error{errors.New("email delivery failed"), nil}}
	w, q := newTestWorker(t, proc, Options{Concurrency: 1})

	job, err := q.Enqueue(context.Background(), "POLITICAL_SNAPSHOT", "a@b.co", nil, 0)
	require.NoError(t, err)

	w.Start()
	defer func() { require.NoError(t, w.Stop()) }()

	done := waitForState(t, q, job.ID, queue.StateCompleted)
	assert.Equal(t, 1, done.AttemptsMade) // one recorded failure before the success
	assert.EqualValues(t, 2, proc.calls.Load())
	proc.terminalMu.Lock()
	assert.Empty(t, proc.terminalJobs)
	proc.terminalMu.Unlock()
}

func TestWorkerTerminalFailureNotifies(t *testing.T) {
	proc := &stubProcessor{outcomes: []error{errors.New("No view data was successfully fetched")}}
	w, q := newTestWorker(t, proc, Options{Concurrency: 1})

	job, err := q.Enqueue(context.Background(), "POLITICAL_SNAPSHOT", "a@b.co", nil, 2)
	require.NoError(t, err)

	w.Start()
	defer func() { require.NoError(t, w.Stop()) }()

	done := waitForState(t, q, job.ID, queue.StateFailed)
	assert.Equal(t, 2, done.AttemptsMade)
	assert.Contains(t, done.FailedReason, "No view data was successfully fetched")

	// The failure notification fires exactly once, on the terminal attempt.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		proc.terminalMu.Lock()
		n := len(proc.terminalJobs)
		proc.terminalMu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	proc.terminalMu.Lock()
	defer proc.terminalMu.Unlock()
	require.Len(t, proc.terminalJobs, 1)
	assert.Equal(t, job.ID, proc.terminalJobs[0])
	assert.Contains(t, proc.terminalCause[0], "No view data")
}

func TestWorkerBoundsConcurrency(t *testing.T) {
	proc := &stubProcessor{outcomes: []error{nil}, block: 30 * time.Millisecond}
	w, q := newTestWorker(t, proc, Options{Concurrency: 2})
	ctx := context.Background()

	ids := make([]string, 6)
	for i := range ids {
		job, err := q.Enqueue(ctx, "POLITICAL_SNAPSHOT", "a@b.co", nil, 0)
		require.NoError(t, err)
		ids[i] = job.ID
	}

	w.Start()
	defer func() { require.NoError(t, w.Stop()) }()

	for _, id := range ids {
		waitForState(t, q, id, queue.StateCompleted)
	}
	assert.LessOrEqual(t, proc.maxSeen.Load(), int64(2))
	assert.EqualValues(t, 6, proc.calls.Load())
}

func TestWorkerStopDrainTimeout(t *testing.T) {
	proc := &stubProcessor{outcomes: []error{nil}, block: 2 * time.Second}
	w, q := newTestWorker(t, proc, Options{
		Concurrency:  1,
		DrainTimeout: 50 * time.Millisecond,
	})

	_, err := q.Enqueue(context.Background(), "POLITICAL_SNAPSHOT", "a@b.co", nil, 0)
	require.NoError(t, err)

	w.Start()
	// Let the job get leased and stuck in Process.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && proc.inFlight.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.EqualValues(t, 1, proc.inFlight.Load())

	err = w.Stop()
	assert.ErrorIs(t, err, ErrDrainTimeout)
	assert.False(t, w.Running())
}

func TestWorkerStopIsClean(t *testing.T) {
	proc := &stubProcessor{outcomes: []error{nil}}
	w, q := newTestWorker(t, proc, Options{Concurrency: 1})

	job, err := q.Enqueue(context.Background(), "POLITICAL_SNAPSHOT", "a@b.co", nil, 0)
	require.NoError(t, err)

	w.Start()
	waitForState(t, q, job.ID, queue.StateCompleted)
	require.NoError(t, w.Stop())
	assert.False(t, w.Running())
}
