// Package store keeps job records. A record is created pending and moves to
// a terminal status exactly once.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ctrace/internal/trace"
)

var (
	ErrNotFound        = errors.New("job not found")
	ErrAlreadyFinished = errors.New("job already finished")
	ErrDuplicate       = errors.New("job already exists")
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Job is the record a client polls.
type Job struct {
	ID           string
	Status       Status
	SourceDigest string
	Lines        int
	Result       trace.Trace
	Error        string
	CreatedAt    time.Time
	FinishedAt   time.Time
}

// Result is the terminal state written by Finish.
type Result struct {
	Status     Status
	Trace      trace.Trace
	Error      string
	FinishedAt time.Time
}

func (r Result) validate() error {
	if !r.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", r.Status)
	}
	return nil
}

func (j *Job) apply(r Result) {
	j.Status = r.Status
	j.Error = r.Error
	j.FinishedAt = r.FinishedAt
	if r.Status == StatusSuccess {
		j.Result = r.Trace
		if j.Result == nil {
			j.Result = trace.Trace{}
		}
	}
}

type Store interface {
	// Create inserts a pending record.
	Create(ctx context.Context, job Job) error
	// Finish moves a pending record to its terminal status. A second call
	// for the same id returns ErrAlreadyFinished.
	Finish(ctx context.Context, id string, res Result) error
	Get(ctx context.Context, id string) (Job, error)
	// Prune deletes terminal records finished before the cutoff and reports
	// how many were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
	// Delete removes a record whatever its status. A missing id returns
	// ErrNotFound.
	Delete(ctx context.Context, id string) error
	Close() error
}
