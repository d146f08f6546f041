package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"ctrace/internal/gdbscript"
)

const (
	SourceFile     = "main.c"
	ScriptFile     = "gdb.script"
	DockerfileName = "Dockerfile"
	WorkDir        = "/app"
	BinaryPath     = WorkDir + "/main"

	// LabelJob marks every image and container created for a job so that
	// leftovers can be pruned.
	LabelJob = "ctrace.job"
)

const dockerfileTemplate = `FROM %s
WORKDIR ` + WorkDir + `
COPY ` + SourceFile + ` ` + ScriptFile + ` ./
RUN gcc -g -O0 -o main ` + SourceFile + `
CMD ["gdb", "--batch", "-nx", "-x", "` + ScriptFile + `"]
`

// Environment is the single-use workspace of one job: a temp directory with
// the build context, and the image and container built from it. Names embed
// the job id so concurrent jobs never collide.
type Environment struct {
	JobID  string
	Dir    string
	Tag    string
	Name   string
	policy Policy

	mu         sync.Mutex
	ranOnce    bool
	closeOnce  sync.Once
	closeError error
}

// NewEnvironment writes the source, the rendered script and a Dockerfile into
// a fresh temp directory.
func NewEnvironment(jobID, source string, script gdbscript.Script, policy Policy) (*Environment, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	slug := resourceSlug(jobID)
	if slug == "" {
		return nil, fmt.Errorf("job id %q has no usable characters", jobID)
	}
	dir, err := os.MkdirTemp("", "ctrace-"+slug+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	env := &Environment{
		JobID:  jobID,
		Dir:    dir,
		Tag:    "ctrace-" + slug,
		Name:   "ctrace-" + slug,
		policy: policy,
	}
	files := map[string]string{
		SourceFile:     source,
		ScriptFile:     script.Render(),
		DockerfileName: fmt.Sprintf(dockerfileTemplate, policy.BaseImage),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	return env, nil
}

func (e *Environment) labels() map[string]string {
	return map[string]string{LabelJob: e.JobID}
}

// Build compiles the source with debug symbols into the job's image.
func (e *Environment) Build(ctx context.Context, rt Runtime) error {
	output, err := rt.BuildImage(ctx, BuildRequest{
		ContextDir: e.Dir,
		Tag:        e.Tag,
		Labels:     e.labels(),
	})
	if err == nil {
		return nil
	}
	if IsUnavailable(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &RuntimeIsolationError{Reason: reasonFor(ctxErr), Message: "while compiling"}
	}
	return &CompileError{Diagnostics: e.scrub(compilerDiagnostics(output))}
}

// Run executes the compiled program under the scripted debugger and returns
// the decoded transcript.
func (e *Environment) Run(ctx context.Context, rt Runtime) (string, error) {
	e.mu.Lock()
	e.ranOnce = true
	e.mu.Unlock()

	res, err := rt.RunContainer(ctx, RunRequest{
		Image:  e.Tag,
		Name:   e.Name,
		Policy: e.policy,
		Labels: e.labels(),
	})
	transcript := Decode(res.Output)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", &RuntimeIsolationError{Reason: reasonFor(ctxErr), Transcript: transcript}
	}
	if err != nil {
		if IsUnavailable(err) {
			return "", err
		}
		if debuggerMissing(err.Error()) {
			return "", &RuntimeIsolationError{Reason: ReasonDebuggerMissing, Transcript: transcript}
		}
		return "", &RuntimeIsolationError{Reason: ReasonRuntime, Message: e.scrub(err.Error()), Transcript: transcript}
	}
	if res.OOMKilled {
		return "", &RuntimeIsolationError{Reason: ReasonOOM, ExitCode: res.ExitCode, Transcript: transcript}
	}
	if res.ExitCode == exitCommandNotFound || (res.ExitCode != 0 && debuggerMissing(transcript)) {
		return "", &RuntimeIsolationError{Reason: ReasonDebuggerMissing, ExitCode: res.ExitCode, Transcript: transcript}
	}
	if res.ExitCode != 0 {
		return "", &RuntimeIsolationError{Reason: ReasonExit, ExitCode: res.ExitCode, Transcript: transcript}
	}
	return transcript, nil
}

// Close removes the container, the image and the workspace. Only the first
// call does any work; later calls return the first result. Targets that are
// already gone are not errors.
func (e *Environment) Close(ctx context.Context, rt Runtime) error {
	e.closeOnce.Do(func() {
		var errs []error
		e.mu.Lock()
		ran := e.ranOnce
		e.mu.Unlock()
		if ran {
			if err := rt.RemoveContainer(ctx, e.Name); err != nil && !errors.Is(err, ErrNotFound) {
				errs = append(errs, fmt.Errorf("remove container: %w", err))
			}
		}
		if err := rt.RemoveImage(ctx, e.Tag); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("remove image: %w", err))
		}
		if err := os.RemoveAll(e.Dir); err != nil {
			errs = append(errs, fmt.Errorf("remove workspace: %w", err))
		}
		e.closeError = errors.Join(errs...)
	})
	return e.closeError
}

// scrub hides host paths and resource names from text shown to users.
func (e *Environment) scrub(s string) string {
	s = strings.ReplaceAll(s, e.Dir+string(filepath.Separator), "")
	s = strings.ReplaceAll(s, e.Dir, ".")
	s = strings.ReplaceAll(s, e.Tag, "sandbox")
	return strings.TrimSpace(s)
}

// exitCommandNotFound is the status an engine reports when the container
// command cannot be executed. gdb ends every session with quit, so it never
// exits with it.
const exitCommandNotFound = 127

func debuggerMissing(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, `"gdb": executable file not found`) ||
		strings.Contains(s, "gdb: not found") ||
		strings.Contains(s, "gdb: command not found")
}

func reasonFor(ctxErr error) Reason {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonCanceled
}

// resourceSlug keeps the characters that are valid in both image tags and
// container names.
func resourceSlug(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}
