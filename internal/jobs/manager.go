package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/CZERTAINLY/genojob/internal/executor"
	"github.com/CZERTAINLY/genojob/internal/log"
)

const (
	DefaultGracePeriod   = 5 * time.Second
	DefaultSweepInterval = 10 * time.Minute
)

// Process is the part of a started child the manager needs.
type Process interface {
	PID() int
	Terminate(grace time.Duration)
}

// StartFunc starts a child process, see executor.Executor.Start. The onExit
// callback must be invoked from another goroutine, never before StartFunc
// returned.
type StartFunc func(ctx context.Context, cmd executor.Command, onOutput executor.OutputFunc, onExit executor.ExitFunc) (Process, error)

// ExecutorStart adapts an executor.Executor.
func ExecutorStart(e *executor.Executor) StartFunc {
	return func(ctx context.Context, cmd executor.Command, onOutput executor.OutputFunc, onExit executor.ExitFunc) (Process, error) {
		p, err := e.Start(ctx, cmd, onOutput, onExit)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Config tunes the Manager.
type Config struct {
	// MaxConcurrent limits running children, jobs above it stay pending.
	// Zero or negative means no limit.
	MaxConcurrent int
	// GracePeriod is the time between interrupt and kill on cancel and timeout.
	GracePeriod time.Duration
	// Timeout terminates jobs running longer, zero disables it.
	Timeout time.Duration
	// Retention evicts terminal jobs finished longer ago, zero keeps them forever.
	Retention time.Duration
	// SweepInterval is how often retention is applied.
	SweepInterval time.Duration
	// WorkDir is the working directory of children and the base of
	// relative artifact paths.
	WorkDir string
}

// Submission is a request to run a kind with named arguments.
type Submission struct {
	Kind string         `json:"kind"`
	Args map[string]any `json:"args"`
	Name string         `json:"job_name,omitempty"`
}

type Option func(*Manager)

// WithStarter replaces the process executor.
func WithStarter(start StartFunc) Option {
	return func(m *Manager) {
		m.start = start
	}
}

// WithMeterProvider sets where job metrics go, the global provider by default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) {
		m.meterProvider = mp
	}
}

// Manager is the single owner of job records. It starts children, applies
// their exit to the records and answers queries.
type Manager struct {
	cfg           Config
	registry      *Registry
	start         StartFunc
	meterProvider metric.MeterProvider
	metrics       *metrics
	store         *store
	sem           *semaphore.Weighted
	scheduler     gocron.Scheduler
	ctx           context.Context
	now           func() time.Time

	// mx guards closed and wg.Add against Close
	mx     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Manager. The ctx carries logging attributes only, the
// manager lives until Close.
func New(ctx context.Context, registry *Registry, cfg Config, opts ...Option) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("registry is nil")
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	m := &Manager{
		cfg:      cfg,
		registry: registry,
		store:    newStore(),
		ctx:      context.WithoutCancel(ctx),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.start == nil {
		m.start = ExecutorStart(executor.New())
	}
	if m.meterProvider == nil {
		m.meterProvider = otel.GetMeterProvider()
	}
	var err error
	m.metrics, err = newMetrics(m.meterProvider)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent > 0 {
		m.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	if cfg.Retention > 0 {
		m.scheduler, err = newJanitor(m.ctx, cfg.SweepInterval, func() {
			n := m.Sweep(m.now())
			if n > 0 {
				slog.InfoContext(m.ctx, "expired jobs evicted", "count", n, "retention", cfg.Retention.String())
			}
		})
		if err != nil {
			return nil, err
		}
		m.scheduler.Start()
	}
	return m, nil
}

// Submit validates the submission, records a pending job and starts it in
// the background. It never waits for the child. An error means no job was
// created and wraps ErrSubmission.
func (m *Manager) Submit(ctx context.Context, sub Submission) (string, error) {
	kind, target, err := m.registry.resolve(sub.Kind)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	if kind.Validate != nil {
		if err := kind.Validate(sub.Args); err != nil {
			return "", fmt.Errorf("%w: kind %s: %w", ErrSubmission, kind.Name, err)
		}
	}

	id := uuid.NewString()
	args, artifact, err := buildArgs(kind.Params, sub.Args, id)
	if err != nil {
		return "", fmt.Errorf("%w: kind %s: %w", ErrSubmission, kind.Name, err)
	}
	if artifact != "" && !filepath.IsAbs(artifact) && m.cfg.WorkDir != "" {
		artifact = filepath.Join(m.cfg.WorkDir, artifact)
	}

	name := sub.Name
	if name == "" {
		name = kind.jobName(sub.Args)
	}
	cmd := executor.Command{
		Path:    target.Path,
		Args:    target.argv(args),
		Env:     target.Env,
		Dir:     m.cfg.WorkDir,
		Timeout: m.cfg.Timeout,
		Grace:   m.cfg.GracePeriod,
	}
	rec := newRecord(id, name, kind.Name, cmd, artifact, m.now())

	m.mx.RLock()
	defer m.mx.RUnlock()
	if m.closed {
		return "", fmt.Errorf("%w: manager is closed", ErrSubmission)
	}
	m.store.add(rec)
	m.wg.Add(1)
	go m.run(rec)

	m.metrics.jobSubmitted(ctx, rec.kind)
	slog.InfoContext(ctx, "job submitted", "job_id", id, "job_kind", rec.kind, "job_name", name)
	return id, nil
}

// run waits for an execution slot and starts the child.
func (m *Manager) run(rec *record) {
	defer m.wg.Done()
	ctx := log.WithJob(m.ctx, rec.id, rec.kind)

	release := func() {}
	if m.sem != nil {
		if err := m.sem.Acquire(rec.pendingCtx, 1); err != nil {
			// cancelled while pending, Cancel has finalized the record
			return
		}
		release = sync.OnceFunc(func() { m.sem.Release(1) })
	}

	rec.mx.Lock()
	if rec.status != StatusPending {
		rec.mx.Unlock()
		release()
		return
	}

	// the exit callback outlives run, Close waits for it too
	m.wg.Add(1)
	proc, err := m.start(ctx, rec.command, rec.output, func(exit executor.Exit) {
		defer m.wg.Done()
		defer release()
		m.finish(ctx, rec, exit)
	})
	now := m.now()
	if err != nil {
		m.wg.Done()
		rec.err = &Error{Kind: KindLaunch, Message: err.Error()}
		rec.setStatus(StatusFailed, now)
		rec.mx.Unlock()
		release()
		m.metrics.jobFinished(ctx, rec.kind, StatusFailed, false, 0)
		slog.ErrorContext(ctx, "job launch failed", "error", err)
		return
	}
	rec.proc = proc
	rec.pid = proc.PID()
	rec.setStatus(StatusRunning, now)
	// recorded under the lock, finish can't count the exit before the start
	m.metrics.jobStarted(ctx, rec.kind)
	rec.mx.Unlock()

	slog.InfoContext(ctx, "job running", "pid", proc.PID())
}

// finish classifies the exit of a child and finalizes the record.
func (m *Manager) finish(ctx context.Context, rec *record, exit executor.Exit) {
	var (
		status = StatusCompleted
		result json.RawMessage
		jobErr *Error
	)
	code := exit.Code
	switch {
	case exit.TimedOut:
		status = StatusFailed
		jobErr = &Error{
			Kind:     KindRuntime,
			Message:  fmt.Sprintf("timed out after %s", m.cfg.Timeout),
			ExitCode: &code,
		}
	case exit.Err != nil || exit.Code != 0:
		status = StatusFailed
		msg := fmt.Sprintf("process exited with code %d", exit.Code)
		if exit.Err != nil {
			msg = exit.Err.Error()
		}
		jobErr = &Error{Kind: KindRuntime, Message: msg, ExitCode: &code}
	case !exit.Terminated:
		var err error
		result, err = resolveResult(rec.artifact, exit.Stdout)
		if err != nil {
			status = StatusFailed
			jobErr = &Error{Kind: KindResultParse, Message: err.Error(), ExitCode: &code}
		}
	}

	rec.mx.Lock()
	if rec.cancelRequested {
		status, result, jobErr = StatusCancelled, nil, nil
	} else if exit.Terminated && jobErr == nil && result == nil {
		// terminated by Close or an external caller, not by a user cancel
		status = StatusFailed
		jobErr = &Error{Kind: KindRuntime, Message: "process terminated", ExitCode: &code}
	}
	rec.result = result
	rec.err = jobErr
	ok := rec.setStatus(status, m.now())
	took := rec.finishedAt.Sub(rec.startedAt)
	rec.mx.Unlock()
	if !ok {
		slog.ErrorContext(ctx, "job exit ignored: record already terminal", "status", status)
		return
	}

	m.metrics.jobFinished(ctx, rec.kind, status, true, took)
	if jobErr != nil {
		slog.WarnContext(ctx, "job failed", "error_kind", jobErr.Kind, "error", jobErr.Message, "code", code)
		return
	}
	slog.InfoContext(ctx, "job finished", "status", status, "took", took.String())
}

// Status returns a copy of the job state.
func (m *Manager) Status(_ context.Context, id string) (Info, error) {
	rec, ok := m.store.get(id)
	if !ok {
		return Info{}, notFound(id)
	}
	return rec.info(), nil
}

// Result returns the payload of a completed job. Other states are reported
// by ErrNotFinished, ErrJobFailed or ErrJobCancelled. It never waits.
func (m *Manager) Result(_ context.Context, id string) (json.RawMessage, error) {
	rec, ok := m.store.get(id)
	if !ok {
		return nil, notFound(id)
	}
	rec.mx.RLock()
	defer rec.mx.RUnlock()
	switch rec.status {
	case StatusCompleted:
		return rec.result, nil
	case StatusFailed:
		return nil, fmt.Errorf("%w: %w", ErrJobFailed, rec.err.clone())
	case StatusCancelled:
		return nil, fmt.Errorf("%w: %s", ErrJobCancelled, id)
	default:
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotFinished, id, rec.status)
	}
}

// Log returns the last tail lines of the job output, all of them for tail == 0.
func (m *Manager) Log(_ context.Context, id string, tail int) (LogTail, error) {
	if tail < 0 {
		return LogTail{}, fmt.Errorf("%w: tail must not be negative, got %d", ErrInvalidArgument, tail)
	}
	rec, ok := m.store.get(id)
	if !ok {
		return LogTail{}, notFound(id)
	}
	return rec.log.tail(tail), nil
}

// Cancel stops a job. Terminal jobs are left as they are and nil is
// returned. A pending job is cancelled without ever starting. A running job
// is interrupted, killed after the grace period, and Cancel waits for its
// exit or for ctx.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	rec, ok := m.store.get(id)
	if !ok {
		return notFound(id)
	}

	rec.mx.Lock()
	switch rec.status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		rec.mx.Unlock()
		return nil
	case StatusPending:
		rec.cancelRequested = true
		rec.setStatus(StatusCancelled, m.now())
		rec.mx.Unlock()
		m.metrics.jobFinished(ctx, rec.kind, StatusCancelled, false, 0)
		slog.InfoContext(ctx, "pending job cancelled", "job_id", id)
		return nil
	}
	rec.cancelRequested = true
	proc := rec.proc
	rec.mx.Unlock()

	slog.InfoContext(ctx, "cancelling running job", "job_id", id, "pid", proc.PID())
	proc.Terminate(m.cfg.GracePeriod)
	select {
	case <-rec.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns jobs in creation order, only those with the given status
// when status is not nil.
func (m *Manager) List(_ context.Context, status *Status) []Info {
	records := m.store.all()
	ret := make([]Info, 0, len(records))
	for _, rec := range records {
		info := rec.info()
		if status != nil && info.Status != *status {
			continue
		}
		ret = append(ret, info)
	}
	return ret
}

// Sweep evicts terminal jobs finished before now minus the retention period
// and returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	if m.cfg.Retention <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.Retention)
	var expired []string
	for _, rec := range m.store.all() {
		rec.mx.RLock()
		if rec.status.Terminal() && rec.finishedAt.Before(cutoff) {
			expired = append(expired, rec.id)
		}
		rec.mx.RUnlock()
	}
	m.store.remove(expired...)
	return len(expired)
}

// Close rejects new submissions, cancels every unfinished job and waits
// for the job goroutines.
func (m *Manager) Close(ctx context.Context) error {
	m.mx.Lock()
	if m.closed {
		m.mx.Unlock()
		return nil
	}
	m.closed = true
	m.mx.Unlock()

	var errs []error
	if m.scheduler != nil {
		if err := m.scheduler.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("shutting down janitor: %w", err))
		}
	}

	var g errgroup.Group
	for _, rec := range m.store.all() {
		g.Go(func() error {
			return m.Cancel(ctx, rec.id)
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, fmt.Errorf("cancelling jobs: %w", err))
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
