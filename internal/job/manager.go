// internal/job/manager.go
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"mcp-meal-vision/internal/models"
	"mcp-meal-vision/internal/status"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already exists")
	ErrShuttingDown = errors.New("manager is shutting down")
	ErrNotRetryable = errors.New("job cannot be retried")
)

const ledgerTimeout = 5 * time.Second

// Ledger persists job progress so status survives a restart.
type Ledger interface {
	SaveJob(ctx context.Context, job models.JobRecord) error
	GetJob(ctx context.Context, id string) (*models.JobRecord, error)
}

type ManagerOptions struct {
	MaxConcurrent int64
	Ledger        Ledger
	// Listeners observe every job's transitions, in order, after the ledger.
	Listeners []status.Listener
	Logger    *log.Logger
	Now       func() time.Time
}

type entry struct {
	input   Input
	machine *status.Machine
	cancel  context.CancelFunc
	done    chan struct{}
	result  Result
}

// Manager runs jobs in the background, at most MaxConcurrent at a time.
type Manager struct {
	orch   *Orchestrator
	opts   ManagerOptions
	sem    *semaphore.Weighted
	logger *log.Logger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	jobs   map[string]*entry
	closed bool
}

func NewManager(orch *Orchestrator, opts ManagerOptions) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		orch:   orch,
		opts:   opts,
		sem:    semaphore.NewWeighted(opts.MaxConcurrent),
		logger: opts.Logger.WithPrefix("jobs"),
		ctx:    ctx,
		stop:   stop,
		jobs:   make(map[string]*entry),
	}
}

// Submit queues a job and returns its id. A missing JobID is generated and a
// missing CapturedAt defaults to now.
func (m *Manager) Submit(in Input) (string, error) {
	if in.JobID == "" {
		in.JobID = uuid.NewString()
	}
	if in.CapturedAt.IsZero() {
		in.CapturedAt = m.opts.Now()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrShuttingDown
	}
	if _, ok := m.jobs[in.JobID]; ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateJob, in.JobID)
	}

	machine := status.NewMachine(in.JobID)
	if m.opts.Ledger != nil {
		machine.Subscribe(m.ledgerListener(in))
	}
	for _, l := range m.opts.Listeners {
		machine.Subscribe(l)
	}
	in.Status = machine

	ctx, cancel := context.WithCancel(m.ctx)
	e := &entry{input: in, machine: machine, cancel: cancel, done: make(chan struct{})}
	m.jobs[in.JobID] = e
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, e)

	m.logger.Info("job submitted", "job_id", in.JobID, "photo_ref", in.PhotoRef)
	return in.JobID, nil
}

func (m *Manager) run(ctx context.Context, e *entry) {
	defer m.wg.Done()
	defer close(e.done)
	defer e.cancel()

	// A job cancelled while queued still runs so it reaches a terminal state;
	// the orchestrator stops before any analysis.
	if err := m.sem.Acquire(ctx, 1); err == nil {
		defer m.sem.Release(1)
	}

	res := m.orch.Run(ctx, e.input)

	m.mu.Lock()
	e.result = res
	m.mu.Unlock()
}

// Cancel stops a queued or running job. Cancelling a finished job is a no-op.
func (m *Manager) Cancel(jobID string) error {
	e, err := m.get(jobID)
	if err != nil {
		return err
	}
	e.cancel()
	return nil
}

// Status returns the current view of a job, falling back to the ledger for
// jobs from an earlier run.
func (m *Manager) Status(ctx context.Context, jobID string) (status.View, error) {
	if e, err := m.get(jobID); err == nil {
		v := status.ViewOf(e.machine.Current())
		if v.Attempt == 0 {
			m.mu.Lock()
			v.Attempt = e.result.Attempts
			m.mu.Unlock()
		}
		return v, nil
	}

	if m.opts.Ledger == nil {
		return status.View{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	rec, err := m.opts.Ledger.GetJob(ctx, jobID)
	if err != nil {
		return status.View{}, fmt.Errorf("%w: %s: %v", ErrUnknownJob, jobID, err)
	}
	return status.View{
		State:     rec.State,
		Attempt:   rec.Attempts,
		RecordID:  rec.RecordID,
		ErrorKind: rec.ErrorKind,
		Message:   rec.Message,
	}, nil
}

// Wait blocks until the job finished or ctx is done.
func (m *Manager) Wait(ctx context.Context, jobID string) (Result, error) {
	e, err := m.get(jobID)
	if err != nil {
		return Result{}, err
	}
	select {
	case <-e.done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return e.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// CanRetry reports whether jobID could be resubmitted once it failed. It is
// safe to call from a status listener.
func (m *Manager) CanRetry(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[jobID]
	return ok && !m.closed && e.input.PhotoRef != ""
}

// Retry submits the photo of a failed job again under a new job id.
func (m *Manager) Retry(jobID string) (string, error) {
	e, err := m.get(jobID)
	if err != nil {
		return "", err
	}
	failed, ok := e.machine.Current().(status.Error)
	if !ok || failed.NoFood || !m.CanRetry(jobID) {
		return "", fmt.Errorf("%w: %s", ErrNotRetryable, jobID)
	}
	return m.Submit(Input{PhotoRef: e.input.PhotoRef, CapturedAt: e.input.CapturedAt})
}

// Shutdown refuses new jobs, cancels running ones and waits for them to reach
// a terminal state or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) get(jobID string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return e, nil
}

// ledgerListener writes every transition of one job to the ledger.
func (m *Manager) ledgerListener(in Input) status.Listener {
	attempts := 0
	return func(jobID string, _, next status.AnalysisStatus) {
		view := status.ViewOf(next)
		if view.Attempt > attempts {
			attempts = view.Attempt
		}

		rec := models.JobRecord{
			ID:         jobID,
			PhotoRef:   in.PhotoRef,
			CapturedAt: in.CapturedAt,
			State:      view.State,
			Attempts:   attempts,
			ErrorKind:  view.ErrorKind,
			Message:    view.Message,
			RecordID:   view.RecordID,
			UpdatedAt:  m.opts.Now(),
		}

		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		defer cancel()
		if err := m.opts.Ledger.SaveJob(ctx, rec); err != nil {
			m.logger.Warn("failed to record job state", "job_id", jobID, "state", view.State, "err", err)
		}
	}
}
