package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"ctrace/internal/trace"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the program did not compile or run cleanly, the ledger is tampered, ...
	ExitCommandError = 2 // bad arguments, unreadable files, unreachable server or engine
)

// Error codes reported in JSON output.
const (
	ErrCodeInput       = "E001"
	ErrCodeConfig      = "E002"
	ErrCodeCompile     = "E003"
	ErrCodeRuntime     = "E004"
	ErrCodeUnavailable = "E005"
	ErrCodeServer      = "E006"
	ErrCodeLedger      = "E007"
	ErrCodeJob         = "E008"
)

// ExitError carries the process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// GetExitCode returns ExitFailure for errors that are not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// IsReported tells whether err was already written by an OutputFormatter.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}

// CLIResponse is the envelope of every --format json output.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

var isTerminal = term.IsTerminal

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// Success writes data. In text mode strings and traces get a readable
// rendering; other values are printed as JSON, indented on a terminal.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	switch v := data.(type) {
	case string:
		_, err := fmt.Fprintln(f.Writer, v)
		return err
	case trace.Trace:
		return writeTrace(f.Writer, v)
	default:
		enc := json.NewEncoder(f.Writer)
		if f.terminal() {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(v)
	}
}

func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	w := f.errWriter()
	fmt.Fprintf(w, "Error [%s]: %s\n", code, message)
	if details != nil {
		fmt.Fprintf(w, "%v\n", details)
	}
	return nil
}

// Fail reports the error and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(exit int, code, message string, details any) error {
	_ = f.Error(code, message, details)
	return NewExitError(exit, message)
}

// VerboseLog writes to ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func (f *OutputFormatter) terminal() bool {
	file, ok := f.Writer.(*os.File)
	return ok && isTerminal(int(file.Fd()))
}

// writeTrace prints one block per step: the line, the full snapshot, the
// changes and any dereferenced structures.
func writeTrace(w io.Writer, tr trace.Trace) error {
	if len(tr) == 0 {
		_, err := fmt.Fprintln(w, "no steps")
		return err
	}
	var b strings.Builder
	for i, step := range tr {
		fmt.Fprintf(&b, "step %d  line %d\n", i+1, step.Line)
		for _, name := range step.Variables.Names() {
			value, _ := step.Variables.Get(name)
			fmt.Fprintf(&b, "  %s = %s\n", name, value)
		}
		for _, c := range step.ChangedVars {
			fmt.Fprintf(&b, "  ~ %s: %s -> %s\n", c.Name, c.Previous, c.Value)
		}
		for _, s := range step.Dereferenced.Structures {
			fmt.Fprintf(&b, "  * %s\n", s)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
