package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctrace/internal/trace"
)

func sampleTrace() trace.Trace {
	return trace.Trace{
		{
			Line:        3,
			Variables:   trace.VarsOf("i", "21845"),
			ChangedVars: []trace.Change{{Name: "i", Value: "21845", Previous: trace.NotAvailable}},
		},
		{
			Line:         4,
			Variables:    trace.VarsOf("i", "0"),
			Dereferenced: trace.Dereferenced{Structures: []string{"{data = 1, next = 0x0}"}},
			ChangedVars:  []trace.Change{{Name: "i", Value: "0", Previous: "21845"}},
		},
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "bad"))))

	assert.True(t, IsReported(NewExitError(ExitFailure, "x")))
	assert.False(t, IsReported(errors.New("x")))
}

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{Code: ExitFailure, Message: "poll failed", Err: errors.New("connection refused")}
	assert.Equal(t, "poll failed: connection refused", err.Error())
	assert.ErrorContains(t, errors.Unwrap(err), "connection refused")
}

func TestFormatterJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(map[string]int{"blocks": 2}))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"blocks": float64(2)}, resp.Data)

	buf.Reset()
	err := f.Fail(ExitFailure, ErrCodeCompile, "compilation failed", "main.c:1: error")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp = CLIResponse{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeCompile, resp.Error.Code)
	assert.Equal(t, "main.c:1: error", resp.Error.Details)
}

func TestFormatterTextErrorsGoToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut}

	_ = f.Error(ErrCodeServer, "submit failed", "connection refused")
	f.VerboseLog("hidden")

	assert.Empty(t, out.String())
	assert.Equal(t, "Error [E006]: submit failed\nconnection refused\n", errOut.String())

	f.Verbose = true
	f.VerboseLog("tracing %d lines", 3)
	assert.Contains(t, errOut.String(), "tracing 3 lines\n")
}

func TestFormatterTextValues(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("hello"))
	assert.Equal(t, "hello\n", buf.String())

	buf.Reset()
	require.NoError(t, f.Success(map[string]string{"a": "b"}))
	assert.Equal(t, "{\"a\":\"b\"}\n", buf.String())

	buf.Reset()
	require.NoError(t, f.Success(trace.Trace{}))
	assert.Equal(t, "no steps\n", buf.String())
}

func TestTraceTextGolden(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, writeTrace(buf, sampleTrace()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "trace_text", buf.Bytes())
}
