package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fakeRuntime records calls and replays canned results.
type fakeRuntime struct {
	mu sync.Mutex

	buildLog string
	buildErr error
	run      RunResult
	runErr   error
	block    bool

	removeContainerErr error
	removeImageErr     error

	builds           []BuildRequest
	dockerfiles      []string
	runs             []RunRequest
	removedContainer []string
	removedImage     []string
}

func (f *fakeRuntime) BuildImage(ctx context.Context, req BuildRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, req)
	if data, err := os.ReadFile(filepath.Join(req.ContextDir, DockerfileName)); err == nil {
		f.dockerfiles = append(f.dockerfiles, string(data))
	}
	return f.buildLog, f.buildErr
}

func (f *fakeRuntime) RunContainer(ctx context.Context, req RunRequest) (RunResult, error) {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return f.run, ctx.Err()
	}
	return f.run, f.runErr
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedContainer = append(f.removedContainer, name)
	return f.removeContainerErr
}

func (f *fakeRuntime) RemoveImage(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedImage = append(f.removedImage, tag)
	return f.removeImageErr
}

func (f *fakeRuntime) PruneImages(ctx context.Context, label string, olderThan time.Duration) error {
	return nil
}
