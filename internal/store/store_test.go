package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctrace/internal/trace"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "ctrace:")
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleTrace() trace.Trace {
	return trace.Reduce([]trace.RawStep{
		{Line: 5, Variables: trace.VarsOf("i", "0")},
		{Line: 6, Variables: trace.VarsOf("i", "1", "head", "0x602010"), Dereferenced: []string{"{data = 6, next = 0x0}"}},
	})
}

func TestStoreLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			require.NoError(t, s.Create(ctx, Job{ID: "job-1", SourceDigest: "abc", Lines: 7, CreatedAt: created}))
			job, err := s.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, StatusPending, job.Status)
			assert.Equal(t, "abc", job.SourceDigest)
			assert.Equal(t, 7, job.Lines)
			assert.True(t, job.CreatedAt.Equal(created))
			assert.Nil(t, job.Result)

			finished := created.Add(3 * time.Second)
			require.NoError(t, s.Finish(ctx, "job-1", Result{Status: StatusSuccess, Trace: sampleTrace(), FinishedAt: finished}))

			job, err = s.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, StatusSuccess, job.Status)
			assert.True(t, job.FinishedAt.Equal(finished))
			require.Len(t, job.Result, 2)
			assert.Equal(t, 6, job.Result[1].Line)
			assert.True(t, job.Result[1].Variables.Equal(trace.VarsOf("i", "1", "head", "0x602010")))
			assert.Equal(t, []string{"i", "head"}, job.Result[1].Variables.Names())
			assert.Equal(t, []string{"{data = 6, next = 0x0}"}, job.Result[1].Dereferenced.Structures)
			assert.Empty(t, job.Error)
		})
	}
}

func TestStoreFinishExactlyOnce(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, Job{ID: "job-1", CreatedAt: created}))

			require.NoError(t, s.Finish(ctx, "job-1", Result{Status: StatusFailure, Error: "execution timed out", FinishedAt: created}))
			err := s.Finish(ctx, "job-1", Result{Status: StatusSuccess, Trace: sampleTrace(), FinishedAt: created})
			assert.ErrorIs(t, err, ErrAlreadyFinished)

			job, err := s.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, StatusFailure, job.Status)
			assert.Equal(t, "execution timed out", job.Error)
			assert.Nil(t, job.Result)
		})
	}
}

func TestStoreConcurrentFinish(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, Job{ID: "job-1", CreatedAt: created}))

			var wg sync.WaitGroup
			results := make(chan error, 8)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results <- s.Finish(ctx, "job-1", Result{Status: StatusSuccess, FinishedAt: created})
				}()
			}
			wg.Wait()
			close(results)

			wins := 0
			for err := range results {
				if err == nil {
					wins++
				}
			}
			assert.Equal(t, 1, wins)
		})
	}
}

func TestStoreEmptySuccessTrace(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, Job{ID: "job-1", CreatedAt: created}))
			require.NoError(t, s.Finish(ctx, "job-1", Result{Status: StatusSuccess, FinishedAt: created}))

			job, err := s.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.NotNil(t, job.Result)
			assert.Empty(t, job.Result)
		})
	}
}

func TestStoreErrors(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Finish(ctx, "missing", Result{Status: StatusFailure, FinishedAt: created}), ErrNotFound)

			require.NoError(t, s.Create(ctx, Job{ID: "job-1", CreatedAt: created}))
			assert.ErrorIs(t, s.Create(ctx, Job{ID: "job-1", CreatedAt: created}), ErrDuplicate)
			assert.Error(t, s.Finish(ctx, "job-1", Result{Status: StatusPending}))
		})
	}
}

func TestStorePrune(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			for _, id := range []string{"old", "new", "pending"} {
				require.NoError(t, s.Create(ctx, Job{ID: id, CreatedAt: created}))
			}
			require.NoError(t, s.Finish(ctx, "old", Result{Status: StatusSuccess, FinishedAt: created}))
			require.NoError(t, s.Finish(ctx, "new", Result{Status: StatusFailure, FinishedAt: created.Add(48 * time.Hour)}))

			n, err := s.Prune(ctx, created.Add(24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, err = s.Get(ctx, "old")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.Get(ctx, "new")
			assert.NoError(t, err)
			_, err = s.Get(ctx, "pending")
			assert.NoError(t, err)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, Job{ID: "pending", CreatedAt: created}))
			require.NoError(t, s.Create(ctx, Job{ID: "done", CreatedAt: created}))
			require.NoError(t, s.Finish(ctx, "done", Result{Status: StatusSuccess, FinishedAt: created}))

			require.NoError(t, s.Delete(ctx, "pending"))
			_, err := s.Get(ctx, "pending")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "pending"), ErrNotFound)

			require.NoError(t, s.Delete(ctx, "done"))
			n, err := s.Prune(ctx, created.Add(time.Hour))
			require.NoError(t, err)
			assert.Zero(t, n)

			require.NoError(t, s.Create(ctx, Job{ID: "pending", CreatedAt: created}))
		})
	}
}
