package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"ctrace/internal/sandbox"
)

const sampleTranscript = `Reading symbols from /app/main...
Breakpoint 1 at 0x1131: file main.c, line 3.
Breakpoint 2 at 0x1138: file main.c, line 4.

Breakpoint 1, main () at main.c:3
3	    int i = 0;
i = 21845

Breakpoint 2, main () at main.c:4
4	    i = 1;
i = 0
[Inferior 1 (process 42) exited normally]
`

type fakeRuntime struct {
	mu sync.Mutex

	buildLog string
	buildErr error
	output   string
	exitCode int
	oom      bool
	block    bool
	started  chan struct{}
	gate     chan struct{}

	builds          atomic.Int32
	runs            atomic.Int32
	removedImages   []string
	removedContains []string
	script          string
}

func (f *fakeRuntime) BuildImage(ctx context.Context, req sandbox.BuildRequest) (string, error) {
	f.builds.Add(1)
	if data, err := os.ReadFile(filepath.Join(req.ContextDir, sandbox.ScriptFile)); err == nil {
		f.mu.Lock()
		f.script = string(data)
		f.mu.Unlock()
	}
	return f.buildLog, f.buildErr
}

func (f *fakeRuntime) RunContainer(ctx context.Context, req sandbox.RunRequest) (sandbox.RunResult, error) {
	f.runs.Add(1)
	res := sandbox.RunResult{Output: []byte(f.output), ExitCode: f.exitCode, OOMKilled: f.oom}
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
	if f.block {
		<-ctx.Done()
		return res, ctx.Err()
	}
	return res, nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedContains = append(f.removedContains, name)
	return sandbox.ErrNotFound
}

func (f *fakeRuntime) RemoveImage(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedImages = append(f.removedImages, tag)
	return nil
}

func (f *fakeRuntime) PruneImages(ctx context.Context, label string, olderThan time.Duration) error {
	return nil
}

func (f *fakeRuntime) builtScript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.script
}

func (f *fakeRuntime) imagesRemoved() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removedImages...)
}
