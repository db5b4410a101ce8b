// Package queue schedules download jobs, running at most one at a time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vodkeep/internal/config"
	"vodkeep/internal/consts"
	"vodkeep/internal/entity"
	"vodkeep/internal/errs"
	"vodkeep/internal/observability"
	"vodkeep/pkg/gen"
)

// Runner executes a job and removes its temporary state.
type Runner interface {
	Run(ctx context.Context, job *entity.Job) error
	Cleanup(ctx context.Context, job *entity.Job)
}

// Recorder stores the outcome of completed runs.
type Recorder interface {
	Record(ctx context.Context, view entity.View, reason string) error
}

// Queue is the download scheduler.
type Queue interface {
	Start(ctx context.Context)
	Tick()

	Enqueue(params entity.Params) (string, error)
	EnqueueUnique(params entity.Params) (string, error)
	Cancel(id string) error
	Retry(id string) error
	Remove(id string) error

	Pause()
	Resume()
	Paused() bool

	CanShutdown() bool
	Shutdown()

	IsFileNameUsed(path string) bool
	Jobs() []entity.View
	Get(id string) (entity.View, error)
}

var _ Queue = (*queue)(nil)

// task is the handle of the active job.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type queue struct {
	log     *slog.Logger
	cfg     *config.Config
	runner  Runner
	history Recorder
	metrics *observability.Metrics

	// mu guards jobs and tasks. Tick only ever try-locks it.
	mu    sync.Mutex
	jobs  []*entity.Job
	tasks map[string]*task

	paused    atomic.Bool
	wg        sync.WaitGroup
	startOnce sync.Once
}

// New returns a running, empty queue. history and metrics may be nil.
func New(cfg *config.Config, log *slog.Logger, runner Runner, history Recorder, metrics *observability.Metrics) Queue {
	return &queue{
		log:     log.With(slog.String("package", "queue")),
		cfg:     cfg,
		runner:  runner,
		history: history,
		metrics: metrics,
		tasks:   make(map[string]*task),
	}
}

// Start ticks every configured interval until ctx is done.
func (q *queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		go q.loop(ctx)
	})
}

func (q *queue) loop(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.Queue.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.Tick()
		case <-ctx.Done():
			q.log.InfoContext(ctx, "scheduler stopped", slog.Any("error", ctx.Err()))

			return
		}
	}
}

// Tick promotes the oldest queued job when no job is active. A busy queue is
// skipped until the next tick.
func (q *queue) Tick() {
	if q.paused.Load() {
		return
	}

	if !q.mu.TryLock() {
		return
	}
	defer q.mu.Unlock()

	if q.paused.Load() || len(q.tasks) > 0 {
		return
	}

	var next *entity.Job

	for _, job := range q.jobs {
		if job.Status() == entity.JobStatusQueued {
			next = job

			break
		}
	}

	if next == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}

	q.tasks[next.ID] = t
	next.SetStatus(entity.JobStatusActive)
	q.updateDepthLocked()

	q.log.Info("job started", slog.Any("job", next))

	q.wg.Add(1)

	go q.execute(ctx, next, t)
}

func (q *queue) execute(ctx context.Context, job *entity.Job, t *task) {
	defer q.wg.Done()
	defer close(t.done)
	defer t.cancel()

	stop := q.metrics.JobTimer()
	err := q.runner.Run(ctx, job)

	stop()
	q.complete(job, err)
}

// complete runs once per started job, whatever the outcome.
func (q *queue) complete(job *entity.Job, runErr error) {
	ctx := context.Background()
	log := q.log.With(slog.String("job_id", job.ID))

	q.runner.Cleanup(ctx, job)

	job.SetProgress(100)
	job.SetEncoding(false)

	status, reason := classify(runErr)

	switch status {
	case entity.JobStatusCanceled:
		job.AppendLog("Download task was canceled!")
		log.InfoContext(ctx, "job canceled")
	case entity.JobStatusError:
		job.AppendLog("Download task ended with an error!")
		job.AppendLog(reason)
		log.ErrorContext(ctx, "job failed", slog.Any("error", runErr))
		q.metrics.RecordJobError(classifyError(runErr))
	default:
		job.AppendLog("Download task ended successfully!")
		log.InfoContext(ctx, "job finished", slog.String("output", job.Params.Output))
	}

	q.mu.Lock()

	if _, ok := q.tasks[job.ID]; !ok {
		q.mu.Unlock()
		panic(fmt.Errorf("%w: could not remove task of job '%s' from the task registry", errs.ErrInternal, job.ID))
	}

	delete(q.tasks, job.ID)
	job.SetStatus(status)

	if status == entity.JobStatusFinished && q.cfg.Queue.RemoveCompleted {
		q.removeLocked(job.ID)
	}

	q.updateDepthLocked()
	q.mu.Unlock()

	q.metrics.RecordJobCompleted(string(status))

	if q.history != nil {
		if err := q.history.Record(ctx, job.View(false), reason); err != nil {
			log.WarnContext(ctx, "history record failed", slog.Any("error", err))
		}
	}
}

// classify maps a pipeline result to the terminal status and the failure text.
func classify(err error) (entity.JobStatus, string) {
	switch {
	case err == nil:
		return entity.JobStatusFinished, ""
	case errors.Is(err, errs.ErrJobCanceled), errors.Is(err, context.Canceled):
		return entity.JobStatusCanceled, ""
	default:
		return entity.JobStatusError, err.Error()
	}
}

// classifyError returns the metrics label of a failure.
func classifyError(err error) string {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return "validation"
	case errors.Is(err, errs.ErrNetwork):
		return "network"
	case errors.Is(err, errs.ErrProcess), errors.Is(err, errs.ErrBinaryNotFound):
		return "process"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

// Enqueue appends a queued job. A paused queue rejects it without any change.
func (q *queue) Enqueue(params entity.Params) (string, error) {
	return q.enqueue(params, false)
}

// EnqueueUnique is Enqueue that also rejects the job with errs.ErrFileNameUsed
// when an active or queued job writes to the same output.
func (q *queue) EnqueueUnique(params entity.Params) (string, error) {
	return q.enqueue(params, true)
}

func (q *queue) enqueue(params entity.Params, unique bool) (string, error) {
	if q.paused.Load() {
		return "", errs.ErrQueuePaused
	}

	id := gen.JobID()
	if params.TempDir == "" {
		params.TempDir = filepath.Join(q.cfg.Dir.Temp, gen.TempDirName(consts.TempPrefix, id))
	}

	job := entity.NewJob(id, params, consts.StageInitializing)

	q.mu.Lock()

	// Shutdown pauses before it clears the collection.
	if q.paused.Load() {
		q.mu.Unlock()

		return "", errs.ErrQueuePaused
	}

	if unique && q.fileNameUsedLocked(normalizePath(params.Output)) {
		q.mu.Unlock()

		return "", fmt.Errorf("%w: %s", errs.ErrFileNameUsed, params.Output)
	}

	q.jobs = append(q.jobs, job)
	q.updateDepthLocked()
	q.mu.Unlock()

	q.metrics.RecordJobEnqueued()
	q.log.Info("job enqueued", slog.Any("job", job))

	return id, nil
}

// Cancel signals the active job. Other jobs have no running work to cancel.
func (q *queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.tasks[id]; ok {
		t.cancel()

		return nil
	}

	if q.findLocked(id) == nil {
		return errs.ErrJobNotFound
	}

	return errs.ErrJobNotActive
}

// Retry requeues a failed or canceled job with a fresh log.
func (q *queue) Retry(id string) error {
	if q.paused.Load() {
		return errs.ErrQueuePaused
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.findLocked(id)
	if job == nil {
		return errs.ErrJobNotFound
	}

	if _, ok := q.tasks[id]; ok {
		return errs.ErrJobActive
	}

	if status := job.Status(); status != entity.JobStatusError && status != entity.JobStatusCanceled {
		return fmt.Errorf("%w: status %s", errs.ErrJobNotRetryable, status)
	}

	job.Reset(consts.StageInitializing)
	q.updateDepthLocked()

	return nil
}

// Remove deletes a job that is not active.
func (q *queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tasks[id]; ok {
		return errs.ErrJobActive
	}

	if !q.removeLocked(id) {
		return errs.ErrJobNotFound
	}

	q.updateDepthLocked()

	return nil
}

func (q *queue) Pause() {
	q.paused.Store(true)
	q.log.Info("queue paused")
}

func (q *queue) Resume() {
	q.paused.Store(false)
	q.log.Info("queue resumed")
	q.Tick()
}

func (q *queue) Paused() bool {
	return q.paused.Load()
}

// CanShutdown reports whether no job is active or queued.
func (q *queue) CanShutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) > 0 {
		return false
	}

	for _, job := range q.jobs {
		if s := job.Status(); s == entity.JobStatusActive || s == entity.JobStatusQueued {
			return false
		}
	}

	return true
}

// Shutdown pauses the queue, cancels the active job, waits for every worker to
// complete and then drops all jobs.
func (q *queue) Shutdown() {
	q.Pause()

	q.mu.Lock()
	for _, t := range q.tasks {
		t.cancel()
	}
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	q.jobs = nil
	q.updateDepthLocked()
	q.mu.Unlock()

	q.log.Info("queue shut down")
}

// IsFileNameUsed reports whether an active or queued job writes to path.
// Paths are compared cleaned and case-insensitively.
func (q *queue) IsFileNameUsed(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.fileNameUsedLocked(normalizePath(path))
}

func (q *queue) fileNameUsedLocked(want string) bool {
	for _, job := range q.jobs {
		if s := job.Status(); s != entity.JobStatusActive && s != entity.JobStatusQueued {
			continue
		}

		if normalizePath(job.Params.Output) == want {
			return true
		}
	}

	return false
}

func normalizePath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

// Jobs returns snapshots of all jobs in enqueue order, without logs.
func (q *queue) Jobs() []entity.View {
	q.mu.Lock()
	defer q.mu.Unlock()

	views := make([]entity.View, 0, len(q.jobs))
	for _, job := range q.jobs {
		views = append(views, job.View(false))
	}

	return views
}

// Get returns the snapshot of a job including its log.
func (q *queue) Get(id string) (entity.View, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.findLocked(id)
	if job == nil {
		return entity.View{}, errs.ErrJobNotFound
	}

	return job.View(true), nil
}

func (q *queue) findLocked(id string) *entity.Job {
	for _, job := range q.jobs {
		if job.ID == id {
			return job
		}
	}

	return nil
}

func (q *queue) removeLocked(id string) bool {
	for i, job := range q.jobs {
		if job.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)

			return true
		}
	}

	return false
}

func (q *queue) updateDepthLocked() {
	queued := 0

	for _, job := range q.jobs {
		if job.Status() == entity.JobStatusQueued {
			queued++
		}
	}

	q.metrics.SetQueueDepth(len(q.tasks), queued)
}
