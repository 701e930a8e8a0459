package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// LocalProvider runs steps as host processes in a temporary directory.
// It provides no isolation and is for development only.
type LocalProvider struct {
	logger    *zap.Logger
	cmdRunner CommandRunner
	fs        FileSystem
	baseDir   string
}

// LocalOption defines a functional option for LocalProvider
type LocalOption func(*LocalProvider)

// WithLocalCommandRunner sets the CommandRunner for LocalProvider
func WithLocalCommandRunner(cmdRunner CommandRunner) LocalOption {
	return func(l *LocalProvider) {
		l.cmdRunner = cmdRunner
	}
}

// WithLocalFileSystem sets the FileSystem for LocalProvider
func WithLocalFileSystem(fs FileSystem) LocalOption {
	return func(l *LocalProvider) {
		l.fs = fs
	}
}

// WithLocalBaseDir sets the parent of the per-request directories.
func WithLocalBaseDir(dir string) LocalOption {
	return func(l *LocalProvider) {
		l.baseDir = dir
	}
}

// NewLocalProvider creates a new LocalProvider with default implementations and optional interfaces
func NewLocalProvider(logger *zap.Logger, opts ...LocalOption) *LocalProvider {
	provider := &LocalProvider{
		logger:    logger,
		cmdRunner: RealCommandRunner{},
		fs:        RealFileSystem{},
	}

	for _, opt := range opts {
		opt(provider)
	}

	return provider
}

// Name returns "local".
func (*LocalProvider) Name() string {
	return "local"
}

// Create makes a fresh workspace directory.
func (l *LocalProvider) Create(_ context.Context, spec Spec) (Instance, error) {
	dir, err := l.fs.MkdirTemp(l.baseDir, "runbox-*")
	if err != nil {
		return nil, infraError("failed to create workspace: %v", err)
	}

	home := filepath.Join(dir, ".home")
	tmp := filepath.Join(dir, ".tmp")
	for _, d := range []string{home, tmp} {
		if err := l.fs.MkdirAll(d, DirPermission); err != nil {
			_ = l.fs.RemoveAll(dir)
			return nil, infraError("failed to prepare workspace: %v", err)
		}
	}

	// minimal environment; host secrets are not inherited
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + home,
		"TMPDIR=" + tmp,
		"LANG=C.UTF-8",
	}
	env = append(env, spec.Env...)

	l.logger.Warn("running without isolation", zap.String("workspace", dir))

	return &localInstance{
		provider:  l,
		dir:       dir,
		env:       env,
		maxOutput: spec.MaxOutputBytes,
	}, nil
}

type localInstance struct {
	provider  *LocalProvider
	dir       string
	env       []string
	maxOutput int

	mu      sync.Mutex
	peakRSS int64
}

func (l *localInstance) ID() string {
	return l.dir
}

func (l *localInstance) Upload(_ context.Context, archive []byte) error {
	if err := ExtractTarToDir(l.provider.fs, archive, l.dir); err != nil {
		return infraError("failed to upload workspace: %v", err)
	}
	return nil
}

func (l *localInstance) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	res, err := l.provider.cmdRunner.RunCommand(ctx, Command{
		Args:         req.Args,
		Stdin:        req.Stdin,
		Dir:          l.dir,
		Env:          l.env,
		ProcessGroup: true,
		MaxOutput:    l.maxOutput,
	})

	l.mu.Lock()
	l.peakRSS = max(l.peakRSS, res.MaxRSSKB)
	l.mu.Unlock()

	out := ExecResult{
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		Combined:  res.Combined,
		ExitCode:  res.ExitCode,
		Truncated: res.Truncated,
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return out, err
		}
		// typically the toolchain is not installed on the host
		return out, infraError("failed to start %s: %v", req.Args[0], err)
	}

	return out, nil
}

// PeakMemoryKB reports the largest resident set of any step.
func (l *localInstance) PeakMemoryKB(context.Context) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peakRSS, l.peakRSS > 0
}

// Isolate is a no-op; host processes share the host network.
func (*localInstance) Isolate(context.Context) error {
	return nil
}

func (l *localInstance) Destroy(context.Context) error {
	return l.provider.fs.RemoveAll(l.dir)
}
