package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
)

// collectTimeout bounds log collection after a run was cut short.
const collectTimeout = 10 * time.Second

var _ Runtime = (*DockerAPI)(nil)

// DockerAPI talks to the engine API directly instead of shelling out.
type DockerAPI struct {
	cli    *client.Client
	logger *slog.Logger
}

func NewDockerAPI(logger *slog.Logger) (*DockerAPI, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerAPI{cli: cli, logger: logger}, nil
}

func (d *DockerAPI) Close() error {
	return d.cli.Close()
}

func (d *DockerAPI) BuildImage(ctx context.Context, req BuildRequest) (string, error) {
	buildContext, err := archive.TarWithOptions(req.ContextDir, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("archive build context: %w", err)
	}
	defer buildContext.Close()

	opts := types.ImageBuildOptions{
		Tags:        []string{req.Tag},
		Labels:      req.Labels,
		Dockerfile:  DockerfileName,
		NetworkMode: "none",
		Remove:      true,
		ForceRemove: true,
	}
	if req.AllowNetwork {
		opts.NetworkMode = ""
	}
	if len(req.BuildArgs) > 0 {
		opts.BuildArgs = make(map[string]*string, len(req.BuildArgs))
		for k, v := range req.BuildArgs {
			opts.BuildArgs[k] = &v
		}
	}
	resp, err := d.cli.ImageBuild(ctx, buildContext, opts)
	if err != nil {
		return "", wrapAPIError(err)
	}
	defer resp.Body.Close()

	var log strings.Builder
	dec := json.NewDecoder(resp.Body)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return log.String(), nil
			}
			return log.String(), fmt.Errorf("read build output: %w", err)
		}
		log.WriteString(msg.Stream)
		if msg.Error != nil {
			log.WriteString(msg.Error.Message)
			return log.String(), fmt.Errorf("docker build failed: %s", msg.Error.Message)
		}
	}
}

func (d *DockerAPI) RunContainer(ctx context.Context, req RunRequest) (RunResult, error) {
	memory, err := req.Policy.MemoryBytes()
	if err != nil {
		return RunResult{}, fmt.Errorf("invalid memory limit %q: %w", req.Policy.Memory, err)
	}
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
		},
	}
	if req.Policy.PidsLimit > 0 {
		pids := req.Policy.PidsLimit
		hostConfig.Resources.PidsLimit = &pids
	}
	created, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:           req.Image,
		Labels:          req.Labels,
		NetworkDisabled: true,
	}, hostConfig, nil, nil, req.Name)
	if err != nil {
		return RunResult{}, wrapAPIError(err)
	}
	if err := d.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return RunResult{}, wrapAPIError(err)
	}

	var res RunResult
	statusCh, errCh := d.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var waitErr error
	select {
	case status := <-statusCh:
		res.ExitCode = int(status.StatusCode)
	case waitErr = <-errCh:
	}

	// Logs are collected even when ctx expired so the partial transcript
	// survives.
	collectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), collectTimeout)
	defer cancel()
	res.Output = d.logs(collectCtx, created.ID)
	if info, err := d.cli.ContainerInspect(collectCtx, created.ID); err == nil && info.ContainerJSONBase != nil && info.State != nil {
		res.OOMKilled = info.State.OOMKilled
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if waitErr != nil {
		return res, wrapAPIError(waitErr)
	}
	return res, nil
}

func (d *DockerAPI) logs(ctx context.Context, id string) []byte {
	rc, err := d.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		d.logger.Debug("container logs failed", "container", id, "err", err)
		return nil
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		d.logger.Debug("container logs truncated", "container", id, "err", err)
	}
	return buf.Bytes()
}

func (d *DockerAPI) RemoveContainer(ctx context.Context, name string) error {
	err := d.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: true})
	if client.IsErrNotFound(err) {
		return ErrNotFound
	}
	return wrapAPIError(err)
}

func (d *DockerAPI) RemoveImage(ctx context.Context, tag string) error {
	_, err := d.cli.ImageRemove(ctx, tag, types.ImageRemoveOptions{Force: true, PruneChildren: true})
	if client.IsErrNotFound(err) {
		return ErrNotFound
	}
	return wrapAPIError(err)
}

func (d *DockerAPI) PruneImages(ctx context.Context, label string, olderThan time.Duration) error {
	args := filters.NewArgs(
		filters.Arg("label", label),
		filters.Arg("dangling", "false"),
	)
	if olderThan > 0 {
		args.Add("until", olderThan.String())
	}
	report, err := d.cli.ImagesPrune(ctx, args)
	if err != nil {
		return wrapAPIError(err)
	}
	d.logger.Debug("images pruned", "count", len(report.ImagesDeleted), "reclaimed", report.SpaceReclaimed)
	return nil
}

func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrConnectionFailed(err) {
		return UnavailableError{Message: err.Error()}
	}
	return err
}
