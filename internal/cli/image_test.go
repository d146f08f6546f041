package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctrace/internal/sandbox"
)

func executeImage(t *testing.T, format string, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewImageCommand(&RootOptions{Format: format})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"build"}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestImageBuildDefaults(t *testing.T) {
	rt := &stubRuntime{}
	useRuntime(t, rt, nil)

	out, _, err := executeImage(t, "text")
	require.NoError(t, err)
	assert.Equal(t, "built ctrace-sandbox:latest\n", out)

	require.Len(t, rt.builds, 1)
	assert.Equal(t, sandbox.DefaultBaseImage, rt.builds[0].Tag)
	assert.True(t, rt.builds[0].AllowNetwork)
	assert.Equal(t, "gcc:latest", rt.builds[0].BuildArgs["COMPILER_IMAGE"])
}

func TestImageBuildFlags(t *testing.T) {
	rt := &stubRuntime{}
	useRuntime(t, rt, nil)

	out, _, err := executeImage(t, "json", "--tag", "ctrace-sandbox:14", "--from", "gcc:14")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"image":"ctrace-sandbox:14"}}`, out)
	assert.Equal(t, "ctrace-sandbox:14", rt.builds[0].Tag)
	assert.Equal(t, "gcc:14", rt.builds[0].BuildArgs["COMPILER_IMAGE"])
}

func TestImageBuildFailures(t *testing.T) {
	useRuntime(t, &stubRuntime{buildLog: "E: Unable to locate package gdb", buildErr: errors.New("exit status 100")}, nil)
	_, errOut, err := executeImage(t, "text")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, errOut, "Error [E004]: base image build failed")

	useRuntime(t, &stubRuntime{buildErr: sandbox.UnavailableError{Message: "start Docker"}}, nil)
	_, errOut, err = executeImage(t, "text")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut, "container runtime unavailable: start Docker")

	_, _, err = executeImage(t, "text", "extra")
	assert.Error(t, err)
}

func TestImageBuildUsesConfiguredTag(t *testing.T) {
	rt := &stubRuntime{}
	useRuntime(t, rt, nil)
	path := filepath.Join(t.TempDir(), "ctrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sandbox:\n  base_image: my-sandbox:dev\n"), 0o644))

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewImageCommand(&RootOptions{Format: "text", Config: path})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"build"})
	require.NoError(t, cmd.Execute(), errOut.String())
	assert.Equal(t, "my-sandbox:dev", rt.builds[0].Tag)
}
