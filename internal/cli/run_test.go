package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctrace/internal/sandbox"
	"ctrace/internal/trace"
)

const sampleSource = "#include <stdio.h>\nint main(void) {\n    int i = 0;\n    i = 1;\n    return i;\n}\n"

const sampleTranscript = `Reading symbols from /app/main...

Breakpoint 1, main () at main.c:3
3	    int i = 0;
i = 21845

Breakpoint 2, main () at main.c:4
4	    i = 1;
i = 0
[Inferior 1 (process 42) exited normally]
`

type stubRuntime struct {
	buildLog string
	buildErr error
	output   string
	exitCode int

	builds  []sandbox.BuildRequest
	removed []string
}

func (s *stubRuntime) BuildImage(ctx context.Context, req sandbox.BuildRequest) (string, error) {
	s.builds = append(s.builds, req)
	return s.buildLog, s.buildErr
}

func (s *stubRuntime) RunContainer(ctx context.Context, req sandbox.RunRequest) (sandbox.RunResult, error) {
	return sandbox.RunResult{Output: []byte(s.output), ExitCode: s.exitCode}, nil
}

func (s *stubRuntime) RemoveContainer(ctx context.Context, name string) error {
	return sandbox.ErrNotFound
}

func (s *stubRuntime) RemoveImage(ctx context.Context, tag string) error {
	s.removed = append(s.removed, tag)
	return nil
}

func (s *stubRuntime) PruneImages(ctx context.Context, label string, olderThan time.Duration) error {
	return nil
}

func useRuntime(t *testing.T, rt sandbox.Runtime, err error) {
	t.Helper()
	orig := newRuntime
	newRuntime = func(kind, binary string, logger *slog.Logger) (sandbox.Runtime, error) {
		return rt, err
	}
	t.Cleanup(func() { newRuntime = orig })
}

func writeSource(t *testing.T, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.c")
	require.NoError(t, os.WriteFile(path, []byte(code), 0o644))
	return path
}

func executeRun(t *testing.T, format string, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: format})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRunPrintsTrace(t *testing.T) {
	rt := &stubRuntime{output: sampleTranscript}
	useRuntime(t, rt, nil)

	out, _, err := executeRun(t, "json", writeSource(t, sampleSource))
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   trace.Trace `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 3, resp.Data[0].Line)
	assert.Equal(t, []trace.Change{{Name: "i", Value: "0", Previous: "21845"}}, resp.Data[1].ChangedVars)
	assert.Len(t, rt.removed, 1, "image removed after the run")
}

func TestRunWritesTranscript(t *testing.T) {
	useRuntime(t, &stubRuntime{output: sampleTranscript}, nil)
	dest := filepath.Join(t.TempDir(), "run.log")

	out, _, err := executeRun(t, "text", "--transcript", dest, writeSource(t, sampleSource))
	require.NoError(t, err)
	assert.Contains(t, out, "step 2  line 4")

	saved, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, sampleTranscript, string(saved))
}

func TestRunCompileError(t *testing.T) {
	useRuntime(t, &stubRuntime{
		buildLog: "#8 0.215 main.c:3:14: error: expected ';' before 'i'\n",
		buildErr: errors.New("exit status 1"),
	}, nil)

	_, errOut, err := executeRun(t, "text", writeSource(t, sampleSource))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, errOut, "Error [E003]: compilation failed")
	assert.Contains(t, errOut, "main.c:3:14: error: expected ';' before 'i'")
}

func TestRunNonZeroExit(t *testing.T) {
	useRuntime(t, &stubRuntime{output: "Segmentation fault\n", exitCode: 139}, nil)

	_, errOut, err := executeRun(t, "text", writeSource(t, sampleSource))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, errOut, "sandbox exited with status 139")
	assert.Contains(t, errOut, "Segmentation fault")
}

func TestRunWithoutDebugger(t *testing.T) {
	useRuntime(t, &stubRuntime{exitCode: 127}, nil)

	_, errOut, err := executeRun(t, "text", writeSource(t, sampleSource))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut, "Error [E005]: debugger missing")
	assert.Contains(t, errOut, "ctrace image build")
}

func TestRunUnavailable(t *testing.T) {
	useRuntime(t, &stubRuntime{buildErr: sandbox.UnavailableError{Message: "start Docker"}}, nil)

	_, errOut, err := executeRun(t, "text", writeSource(t, sampleSource))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut, "sandbox unavailable: start Docker")
}

func TestRunRejectsBadInput(t *testing.T) {
	useRuntime(t, &stubRuntime{}, nil)

	_, errOut, err := executeRun(t, "text", writeSource(t, "  \n\t"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut, "no code provided")

	_, errOut, err = executeRun(t, "text", filepath.Join(t.TempDir(), "missing.c"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut, "cannot read source")
}

func TestRunRuntimeConstructionFails(t *testing.T) {
	useRuntime(t, nil, errors.New("docker client: bad host"))

	_, errOut, err := executeRun(t, "text", writeSource(t, sampleSource))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut, "cannot create sandbox runtime")
}
