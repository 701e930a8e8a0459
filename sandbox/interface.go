package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/isdmx/runbox/plan"
)

// ErrInfrastructure marks failures of the execution substrate itself rather
// than of the submitted program.
var ErrInfrastructure = errors.New("sandbox infrastructure failure")

func infraError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInfrastructure, fmt.Sprintf(format, args...))
}

// Spec is the resource envelope of one isolated context.
type Spec struct {
	Image             string
	MemoryMB          int
	CPUs              float64
	PIDsLimit         int
	Network           bool
	DNS               []string
	WorkspaceSizeMB   int
	TmpSizeMB         int
	ExecutableStorage bool
	Cache             *plan.Cache
	Env               []string
	User              string
	// Lifetime bounds how long the context may exist even if it is never
	// destroyed explicitly.
	Lifetime       time.Duration
	MaxOutputBytes int
}

// ExecRequest is one process to run inside an instance.
type ExecRequest struct {
	Args  []string
	Stdin []byte
}

// ExecResult is the captured output of one process.
type ExecResult struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
	// Truncated is set when output exceeded the configured ceiling.
	Truncated bool
}

// Instance is a single isolated execution context.
type Instance interface {
	ID() string
	// Upload extracts a tar.gz archive into the workspace.
	Upload(ctx context.Context, archive []byte) error
	// Exec runs a process in the workspace. When ctx expires the process is
	// terminated and ctx.Err() is returned with the partial output.
	Exec(ctx context.Context, req ExecRequest) (ExecResult, error)
	// PeakMemoryKB reports peak memory usage if it can be measured.
	PeakMemoryKB(ctx context.Context) (int64, bool)
	// Isolate removes network access for the remaining steps. It is a no-op
	// for instances created without a network.
	Isolate(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// Provider creates isolated contexts.
type Provider interface {
	Name() string
	Create(ctx context.Context, spec Spec) (Instance, error)
}

// Command describes a host process started by a CommandRunner.
type Command struct {
	Args  []string
	Stdin []byte
	Dir   string
	// Env replaces the inherited environment when non-nil.
	Env []string
	// ProcessGroup starts the process in its own group so the whole tree is
	// killed on cancellation.
	ProcessGroup bool
	// MaxOutput bounds each captured stream. Zero means unbounded.
	MaxOutput int
}

// CommandResult is the outcome of a host process.
type CommandResult struct {
	Stdout    string
	Stderr    string
	Combined  string
	ExitCode  int
	Truncated bool
	MaxRSSKB  int64
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, cmd Command) (CommandResult, error)
}

// waitDelay bounds how long output pipes may stay open after the process
// was killed.
const waitDelay = 2 * time.Second

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the command. A non-zero exit is reported through
// ExitCode, not the error. When ctx expires the partial result is returned
// together with ctx.Err().
func (RealCommandRunner) RunCommand(ctx context.Context, c Command) (CommandResult, error) {
	if len(c.Args) < 1 {
		return CommandResult{}, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...) //nolint:gosec // argv comes from configured plans
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	capture := newOutputCapture(c.MaxOutput)
	cmd.Stdout = capture.stdoutWriter()
	cmd.Stderr = capture.stderrWriter()
	cmd.WaitDelay = waitDelay
	if c.ProcessGroup {
		configureProcessGroup(cmd)
	}

	err := cmd.Run()

	res := capture.result()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
		res.MaxRSSKB = maxRSSKB(cmd.ProcessState)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
			return res, nil
		}
		return res, err
	}

	return res, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// File permission constants
const (
	DirPermission  = 0o755
	FilePermission = 0o644
	BytesPerKB     = 1024
)
