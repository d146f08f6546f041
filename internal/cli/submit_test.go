package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctrace/internal/core"
	"ctrace/internal/httpapi"
	"ctrace/internal/store"
	"ctrace/internal/trace"
)

// fakeJobs finishes a job after it has been polled pendingPolls times.
type fakeJobs struct {
	mu           sync.Mutex
	code         string
	pendingPolls int
	polls        int
	final        store.Job
}

func (f *fakeJobs) Submit(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", core.ErrEmptySubmission
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code = code
	return f.final.ID, nil
}

func (f *fakeJobs) Poll(ctx context.Context, id string) (store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.final.ID {
		return store.Job{}, core.ErrJobNotFound
	}
	f.polls++
	if f.polls <= f.pendingPolls {
		return store.Job{ID: id, Status: store.StatusPending}, nil
	}
	return f.final, nil
}

func (f *fakeJobs) Wait(ctx context.Context, id string) (store.Job, error) {
	return f.Poll(ctx, id)
}

func newTestServer(t *testing.T, jobs *fakeJobs) string {
	t.Helper()
	srv := httptest.NewServer(httpapi.NewHandler(httpapi.Options{Jobs: jobs}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func successJob() store.Job {
	return store.Job{
		ID:     "task-1",
		Status: store.StatusSuccess,
		Result: trace.Trace{{Line: 3, Variables: trace.VarsOf("i", "0"), ChangedVars: []trace.Change{}}},
	}
}

func TestSubmitPrintsTaskID(t *testing.T) {
	jobs := &fakeJobs{final: successJob()}
	url := newTestServer(t, jobs)

	out := &bytes.Buffer{}
	cmd := NewSubmitCommand(&RootOptions{Format: "text"})
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--server", url, writeSource(t, sampleSource)})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "task-1\n", out.String())
	assert.Equal(t, sampleSource, jobs.code)
}

func TestSubmitWait(t *testing.T) {
	jobs := &fakeJobs{final: successJob(), pendingPolls: 2}
	url := newTestServer(t, jobs)

	out := &bytes.Buffer{}
	cmd := NewSubmitCommand(&RootOptions{Format: "json"})
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--server", url, "--wait", "--interval", "10ms", writeSource(t, sampleSource)})

	require.NoError(t, cmd.Execute())
	var resp struct {
		Status string     `json:"status"`
		Data   TaskResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "success", resp.Data.Status)
	require.Len(t, resp.Data.Result, 1)
	assert.Equal(t, 3, resp.Data.Result[0].Line)
	assert.Equal(t, 3, jobs.polls)
}

func TestSubmitWaitFailure(t *testing.T) {
	msg := "main.c:3:14: error: expected ';'"
	jobs := &fakeJobs{final: store.Job{ID: "task-1", Status: store.StatusFailure, Error: msg}}
	url := newTestServer(t, jobs)

	errOut := &bytes.Buffer{}
	cmd := NewSubmitCommand(&RootOptions{Format: "text"})
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"--server", url, "--wait", "--interval", "10ms", writeSource(t, sampleSource)})

	err := cmd.Execute()
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, errOut.String(), "task task-1 failed")
	assert.Contains(t, errOut.String(), msg)
}

func TestSubmitEmptyCodeRejectedByServer(t *testing.T) {
	url := newTestServer(t, &fakeJobs{final: successJob()})

	errOut := &bytes.Buffer{}
	cmd := NewSubmitCommand(&RootOptions{Format: "text"})
	cmd.SetErr(errOut)
	cmd.SetIn(bytes.NewBufferString(""))
	cmd.SetArgs([]string{"--server", url, "-"})

	err := cmd.Execute()
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut.String(), "No code provided")
}

func TestSubmitServerDown(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	errOut := &bytes.Buffer{}
	cmd := NewSubmitCommand(&RootOptions{Format: "text"})
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"--server", url, writeSource(t, sampleSource)})

	err := cmd.Execute()
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut.String(), "submit failed")
}

func TestPollCommand(t *testing.T) {
	jobs := &fakeJobs{final: successJob(), pendingPolls: 1}
	url := newTestServer(t, jobs)

	run := func(id string) (string, string, error) {
		out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
		cmd := NewPollCommand(&RootOptions{Format: "text"})
		cmd.SetOut(out)
		cmd.SetErr(errOut)
		cmd.SetArgs([]string{"--server", url, id})
		err := cmd.Execute()
		return out.String(), errOut.String(), err
	}

	out, _, err := run("task-1")
	require.NoError(t, err)
	assert.Equal(t, "task task-1 is pending\n", out)

	out, _, err = run("task-1")
	require.NoError(t, err)
	assert.Contains(t, out, "step 1  line 3")

	_, errOut, err := run("nope")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut, "task not found")
}
