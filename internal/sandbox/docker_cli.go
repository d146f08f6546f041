package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const defaultDockerBinary = "docker"

type commandRunner interface {
	Run(ctx context.Context, name string, args []string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

type CLIOptions struct {
	Binary string
	Runner commandRunner
	Logger *slog.Logger
}

var _ Runtime = (*DockerCLI)(nil)

// DockerCLI drives the docker command line client.
type DockerCLI struct {
	binary string
	runner commandRunner
	logger *slog.Logger
}

func NewDockerCLI(opts CLIOptions) *DockerCLI {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = defaultDockerBinary
	}
	runner := opts.Runner
	if runner == nil {
		runner = execRunner{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerCLI{binary: binary, runner: runner, logger: logger}
}

func (d *DockerCLI) BuildImage(ctx context.Context, req BuildRequest) (string, error) {
	args := []string{"build", "--progress=plain"}
	if !req.AllowNetwork {
		args = append(args, "--network", "none")
	}
	args = append(args, "--tag", req.Tag)
	args = append(args, labelArgs(req.Labels)...)
	for _, k := range slices.Sorted(maps.Keys(req.BuildArgs)) {
		args = append(args, "--build-arg", k+"="+req.BuildArgs[k])
	}
	args = append(args, "--file", filepath.Join(req.ContextDir, DockerfileName), req.ContextDir)
	output, err := d.run(ctx, args)
	if err != nil {
		return output, fmt.Errorf("docker build failed: %w", err)
	}
	return output, nil
}

func (d *DockerCLI) RunContainer(ctx context.Context, req RunRequest) (RunResult, error) {
	if _, err := req.Policy.MemoryBytes(); err != nil {
		return RunResult{}, fmt.Errorf("invalid memory limit %q: %w", req.Policy.Memory, err)
	}
	args := []string{
		"run",
		"--name", req.Name,
		"--network", "none",
		"--memory", req.Policy.Memory,
		"--memory-swap", req.Policy.Memory,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
	}
	if req.Policy.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.FormatInt(req.Policy.PidsLimit, 10))
	}
	args = append(args, labelArgs(req.Labels)...)
	args = append(args, req.Image)

	output, err := d.runner.Run(ctx, d.binary, args)
	res := RunResult{Output: output}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	var coded interface{ ExitCode() int }
	if !errors.As(err, &coded) {
		return res, wrapDockerError(err, string(output))
	}
	res.ExitCode = coded.ExitCode()
	// 125 means the docker client itself failed, not the container.
	if res.ExitCode == 125 {
		return res, wrapDockerError(err, string(output))
	}
	res.OOMKilled = d.oomKilled(ctx, req.Name)
	return res, nil
}

func (d *DockerCLI) oomKilled(ctx context.Context, name string) bool {
	out, err := d.runner.Run(ctx, d.binary, []string{"inspect", "--format", "{{.State.OOMKilled}}", name})
	if err != nil {
		d.logger.Debug("inspect failed", "container", name, "err", err)
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

func (d *DockerCLI) RemoveContainer(ctx context.Context, name string) error {
	output, err := d.run(ctx, []string{"rm", "--force", name})
	if err != nil {
		if isNotFoundOutput(output, err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (d *DockerCLI) RemoveImage(ctx context.Context, tag string) error {
	output, err := d.run(ctx, []string{"rmi", "--force", tag})
	if err != nil {
		if isNotFoundOutput(output, err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (d *DockerCLI) PruneImages(ctx context.Context, label string, olderThan time.Duration) error {
	args := []string{"image", "prune", "--all", "--force", "--filter", "label=" + label}
	if olderThan > 0 {
		args = append(args, "--filter", "until="+olderThan.String())
	}
	_, err := d.run(ctx, args)
	return err
}

func (d *DockerCLI) run(ctx context.Context, args []string) (string, error) {
	d.logger.Debug("docker exec", "args", strings.Join(args, " "))
	output, err := d.runner.Run(ctx, d.binary, args)
	if err != nil {
		return string(output), wrapDockerError(err, string(output))
	}
	return string(output), nil
}

func labelArgs(labels map[string]string) []string {
	var args []string
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		if strings.TrimSpace(k) == "" {
			continue
		}
		args = append(args, "--label", k+"="+labels[k])
	}
	return args
}

func wrapDockerError(err error, output string) error {
	trimmed := strings.TrimSpace(output)
	// the engine answered, the image just lacks the debugger
	if debuggerMissing(trimmed) {
		return fmt.Errorf("%w: %s", err, trimmed)
	}
	if isDockerUnavailableOutput(trimmed, err) {
		return UnavailableError{Message: dockerUnavailableHint(trimmed, err)}
	}
	if trimmed != "" {
		return fmt.Errorf("%w: %s", err, trimmed)
	}
	return err
}

func dockerUnavailableHint(output string, err error) string {
	combined := strings.ToLower(strings.TrimSpace(output + " " + err.Error()))
	if strings.Contains(combined, "executable file not found") {
		return "docker client is not installed"
	}
	if strings.Contains(combined, "docker.sock") || strings.Contains(combined, "unix://") {
		return "start the Docker daemon and retry"
	}
	return "start Docker and retry"
}

func isDockerUnavailableOutput(output string, err error) bool {
	combined := strings.ToLower(strings.TrimSpace(output + " " + err.Error()))
	if combined == "" {
		return false
	}
	for _, marker := range []string{
		"cannot connect to the docker daemon",
		"failed to connect to the docker api",
		"is the docker daemon running",
		"executable file not found",
	} {
		if strings.Contains(combined, marker) {
			return true
		}
	}
	return false
}

func isNotFoundOutput(output string, err error) bool {
	combined := strings.ToLower(strings.TrimSpace(output + " " + err.Error()))
	return strings.Contains(combined, "no such container") ||
		strings.Contains(combined, "no such image") ||
		strings.Contains(combined, "no such object")
}
