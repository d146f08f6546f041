// Package janitor periodically removes expired job records, archived
// transcripts and sandbox images that outlived their job.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"ctrace/internal/sandbox"
	"ctrace/internal/storage"
	"ctrace/internal/store"
)

const sweepTimeout = 5 * time.Minute

type Options struct {
	// Schedule is a cron expression or descriptor such as "@every 1h".
	Schedule    string
	Retention   time.Duration
	ImageMaxAge time.Duration

	Store       store.Store
	Transcripts *storage.TranscriptStorage
	Runtime     sandbox.Runtime
	Logger      *slog.Logger
}

type Janitor struct {
	cron        *cron.Cron
	store       store.Store
	transcripts *storage.TranscriptStorage
	runtime     sandbox.Runtime
	retention   time.Duration
	imageMaxAge time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Report counts what one sweep removed.
type Report struct {
	Jobs         int
	Transcripts  int
	ImagesPruned bool
}

func New(opts Options) (*Janitor, error) {
	if opts.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		cron:        cron.New(),
		store:       opts.Store,
		transcripts: opts.Transcripts,
		runtime:     opts.Runtime,
		retention:   opts.Retention,
		imageMaxAge: opts.ImageMaxAge,
		logger:      logger,
		now:         time.Now,
	}
	_, err := j.cron.AddFunc(opts.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		report, err := j.Sweep(ctx)
		if err != nil {
			j.logger.Warn("sweep failed", "err", err)
		}
		j.logger.Info("sweep finished",
			"jobs", report.Jobs,
			"transcripts", report.Transcripts,
			"images_pruned", report.ImagesPruned)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", opts.Schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep runs one retention pass. Each target is attempted even when an
// earlier one fails.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	var report Report
	var errs []error
	cutoff := j.now().Add(-j.retention)

	if j.store != nil {
		n, err := j.store.Prune(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune jobs: %w", err))
		}
		report.Jobs = n
	}
	if j.transcripts != nil {
		n, err := j.transcripts.Prune(cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune transcripts: %w", err))
		}
		report.Transcripts = n
	}
	if j.runtime != nil && j.imageMaxAge > 0 {
		if err := j.runtime.PruneImages(ctx, sandbox.LabelJob, j.imageMaxAge); err != nil {
			errs = append(errs, fmt.Errorf("prune images: %w", err))
		} else {
			report.ImagesPruned = true
		}
	}
	return report, errors.Join(errs...)
}
