package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ctrace/internal/events"
	"ctrace/internal/ledger"
	"ctrace/internal/sandbox"
	"ctrace/internal/storage"
	"ctrace/internal/store"
	"ctrace/pkg/digest"
)

const (
	defaultJobTimeout   = 60 * time.Second
	waitPollInterval    = 250 * time.Millisecond
	defaultWorkers      = 4
	defaultQueueSize    = 64
	bookkeepingDeadline = 10 * time.Second
)

type Options struct {
	Runtime sandbox.Runtime
	Policy  sandbox.Policy
	Store   store.Store

	// Optional collaborators. Failures in any of them are logged and never
	// change a job's outcome.
	Transcripts *storage.TranscriptStorage
	Ledger      *ledger.Ledger
	Events      events.Publisher
	Cache       *TraceCache

	Logger         *slog.Logger
	Workers        int
	QueueSize      int
	JobTimeout     time.Duration
	CleanupTimeout time.Duration
}

// Runner accepts submissions, runs them on the scheduler and records their
// outcome exactly once.
type Runner struct {
	Scheduler   *Scheduler
	Executor    *Executor
	store       store.Store
	transcripts *storage.TranscriptStorage
	ledger      *ledger.Ledger
	events      events.Publisher
	cache       *TraceCache
	logger      *slog.Logger
	jobTimeout  time.Duration

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func NewRunner(opts Options) (*Runner, error) {
	if opts.Runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := opts.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	return &Runner{
		Scheduler:   NewScheduler(workers, queueSize),
		Executor:    NewExecutor(opts.Runtime, opts.Policy, logger, opts.CleanupTimeout),
		store:       opts.Store,
		transcripts: opts.Transcripts,
		ledger:      opts.Ledger,
		events:      publisher,
		cache:       opts.Cache,
		logger:      logger,
		jobTimeout:  jobTimeout,
		waiters:     make(map[string]chan struct{}),
	}, nil
}

// Submit records a pending job and queues it. Empty code is rejected before
// anything else happens.
func (r *Runner) Submit(ctx context.Context, code string) (string, error) {
	sub, err := NewSubmission(code)
	if err != nil {
		return "", err
	}
	err = r.store.Create(ctx, store.Job{
		ID:           sub.ID,
		Status:       store.StatusPending,
		SourceDigest: digest.String(sub.Code),
		Lines:        sub.LineCount(),
		CreatedAt:    sub.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	r.mu.Lock()
	r.waiters[sub.ID] = make(chan struct{})
	r.mu.Unlock()

	if err := r.Scheduler.Enqueue(ctx, func() { r.process(sub) }); err != nil {
		r.discard(sub.ID)
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	r.logger.Info("job submitted", "job_id", sub.ID, "lines", sub.LineCount())
	return sub.ID, nil
}

// discard drops a job that was never queued. Its id was not handed out, so
// it leaves no record, ledger block or event behind.
func (r *Runner) discard(id string) {
	r.mu.Lock()
	delete(r.waiters, id)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingDeadline)
	defer cancel()
	if err := r.store.Delete(ctx, id); err != nil {
		r.logger.Warn("discard unscheduled job failed", "job_id", id, "err", err)
	}
}

// Poll returns the current record of a job.
func (r *Runner) Poll(ctx context.Context, id string) (store.Job, error) {
	job, err := r.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Job{}, ErrJobNotFound
	}
	return job, err
}

// Wait blocks until the job is terminal or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (store.Job, error) {
	r.mu.Lock()
	done, local := r.waiters[id]
	r.mu.Unlock()

	job, err := r.Poll(ctx, id)
	if err != nil || job.Status.Terminal() {
		return job, err
	}
	if local {
		select {
		case <-done:
			return r.Poll(ctx, id)
		case <-ctx.Done():
			return job, ctx.Err()
		}
	}

	// submitted by another process sharing the store
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
			job, err = r.Poll(ctx, id)
			if err != nil || job.Status.Terminal() {
				return job, err
			}
		}
	}
}

// Close stops accepting jobs, waits for queued ones and closes the event
// publisher. The store is owned by the caller.
func (r *Runner) Close() error {
	r.Scheduler.Stop()
	return r.events.Close()
}

func (r *Runner) process(sub Submission) {
	ctx, cancel := context.WithTimeout(context.Background(), r.jobTimeout)
	defer cancel()

	key := digest.String(sub.Code)
	if tr, ok := r.cache.Get(key); ok {
		r.logger.Debug("trace cache hit", "job_id", sub.ID)
		r.complete(sub, Outcome{Trace: tr}, nil)
		return
	}
	out, err := r.Executor.Execute(ctx, sub)
	if err == nil {
		r.cache.Add(key, out.Trace)
	}
	r.complete(sub, out, err)
}

// complete writes the terminal record, then does the best-effort
// bookkeeping and wakes waiters.
func (r *Runner) complete(sub Submission, out Outcome, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingDeadline)
	defer cancel()
	logger := r.logger.With("job_id", sub.ID)

	res := store.Result{Status: store.StatusSuccess, Trace: out.Trace, FinishedAt: time.Now().UTC()}
	if runErr != nil {
		res = store.Result{Status: store.StatusFailure, Error: Describe(runErr), FinishedAt: res.FinishedAt}
		logger.Info("job failed", "err", runErr)
	}
	if err := r.store.Finish(ctx, sub.ID, res); err != nil {
		logger.Error("record job result", "err", err)
	}

	entry := ledger.Entry{
		JobID:      sub.ID,
		Status:     string(res.Status),
		SourceHash: digest.String(sub.Code),
	}
	if r.transcripts != nil && out.Transcript != "" {
		path, err := r.transcripts.Save(sub.ID, out.Transcript)
		if err != nil {
			logger.Warn("archive transcript", "err", err)
		} else {
			entry.TranscriptPath = path
			entry.TranscriptHash = digest.String(out.Transcript)
		}
	}
	if r.ledger != nil {
		if blk, err := r.ledger.Append(entry); err != nil {
			logger.Warn("append ledger block", "err", err)
		} else {
			logger.Debug("ledger block appended", "index", blk.Index, "hash", shortHash(blk.Hash))
		}
	}
	evt := events.Event{
		Type:       events.TypeJobFinished,
		JobID:      sub.ID,
		Status:     string(res.Status),
		Error:      res.Error,
		Steps:      len(res.Trace),
		FinishedAt: res.FinishedAt,
	}
	if err := r.events.Publish(ctx, evt); err != nil {
		logger.Warn("publish event", "err", err)
	}

	r.mu.Lock()
	if ch, ok := r.waiters[sub.ID]; ok {
		close(ch)
		delete(r.waiters, sub.ID)
	}
	r.mu.Unlock()

	logger.Info("job finished", "status", res.Status, "steps", len(res.Trace))
}

func shortHash(h string) string {
	return h[:min(len(h), 16)]
}
