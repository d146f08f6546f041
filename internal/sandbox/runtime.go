// Package sandbox builds and runs one submission inside a disposable,
// network-less, memory-bounded container.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	units "github.com/docker/go-units"
)

// ErrNotFound is returned by Runtime removals when the target is already gone.
var ErrNotFound = errors.New("sandbox: not found")

// Runtime is the container engine behind an Environment. Implementations
// must be safe for concurrent use by many jobs.
type Runtime interface {
	// BuildImage builds ContextDir into Tag and returns the build log.
	BuildImage(ctx context.Context, req BuildRequest) (string, error)
	// RunContainer runs the image to completion. A nonzero exit status is
	// reported in RunResult, not as an error.
	RunContainer(ctx context.Context, req RunRequest) (RunResult, error)
	RemoveContainer(ctx context.Context, name string) error
	RemoveImage(ctx context.Context, tag string) error
	// PruneImages removes images carrying label that are older than olderThan.
	PruneImages(ctx context.Context, label string, olderThan time.Duration) error
}

// NewRuntime returns the runtime named by kind: "cli" drives binary, "api"
// talks to the engine API configured by the DOCKER_* environment.
func NewRuntime(kind, binary string, logger *slog.Logger) (Runtime, error) {
	switch kind {
	case "", "cli":
		return NewDockerCLI(CLIOptions{Binary: binary, Logger: logger}), nil
	case "api":
		return NewDockerAPI(logger)
	default:
		return nil, fmt.Errorf("unknown sandbox runtime %q", kind)
	}
}

type BuildRequest struct {
	ContextDir string
	Tag        string
	Labels     map[string]string
	BuildArgs  map[string]string
	// AllowNetwork lets RUN steps reach the network. Job builds never set it.
	AllowNetwork bool
}

type RunRequest struct {
	Image  string
	Name   string
	Policy Policy
	Labels map[string]string
}

type RunResult struct {
	Output    []byte
	ExitCode  int
	OOMKilled bool
}

// Policy is the isolation applied to every job. BaseImage must provide gcc
// and gdb, see BuildBaseImage.
type Policy struct {
	BaseImage string
	Memory    string
	PidsLimit int64
}

func DefaultPolicy() Policy {
	return Policy{
		BaseImage: DefaultBaseImage,
		Memory:    "128m",
		PidsLimit: 64,
	}
}

// MemoryBytes parses Memory ("128m", "1g") into bytes.
func (p Policy) MemoryBytes() (int64, error) {
	return units.RAMInBytes(p.Memory)
}

func (p Policy) Validate() error {
	if strings.TrimSpace(p.BaseImage) == "" {
		return fmt.Errorf("base image is required")
	}
	n, err := p.MemoryBytes()
	if err != nil {
		return fmt.Errorf("invalid memory limit %q: %w", p.Memory, err)
	}
	if n <= 0 {
		return fmt.Errorf("memory limit must be positive")
	}
	if p.PidsLimit < 0 {
		return fmt.Errorf("pids limit must not be negative")
	}
	return nil
}
