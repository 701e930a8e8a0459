package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	workspaceDir = "/workspace"
	tmpDir       = "/tmp"

	// containerLabel marks every context created by this process so leaked
	// containers can be found with `docker ps --filter label=...`.
	containerLabel = "io.runbox.managed=true"

	// lifetimeGrace is added to the plan ceiling before a forgotten context
	// exits on its own.
	lifetimeGrace = time.Minute

	// controlOutputLimit bounds output of runtime control commands.
	controlOutputLimit = 64 * 1024

	killTimeout = 10 * time.Second
)

// ContainerProvider creates contexts as Docker or Podman containers. The two
// runtimes share a CLI surface, so only the binary differs.
type ContainerProvider struct {
	logger    *zap.Logger
	binary    string
	cmdRunner CommandRunner
	newName   func() string
}

// ContainerOption defines a functional option for ContainerProvider
type ContainerOption func(*ContainerProvider)

// WithContainerCommandRunner sets the CommandRunner for ContainerProvider
func WithContainerCommandRunner(cmdRunner CommandRunner) ContainerOption {
	return func(p *ContainerProvider) {
		p.cmdRunner = cmdRunner
	}
}

// WithContainerNames overrides container name generation.
func WithContainerNames(newName func() string) ContainerOption {
	return func(p *ContainerProvider) {
		p.newName = newName
	}
}

// NewContainerProvider creates a provider driving the given runtime binary
// ("docker" or "podman").
func NewContainerProvider(logger *zap.Logger, binary string, opts ...ContainerOption) *ContainerProvider {
	provider := &ContainerProvider{
		logger:    logger,
		binary:    binary,
		cmdRunner: RealCommandRunner{},
		newName: func() string {
			return "runbox-" + uuid.NewString()
		},
	}

	for _, opt := range opts {
		opt(provider)
	}

	return provider
}

// defaultNetwork is the network `--network bridge` attaches to.
func (p *ContainerProvider) defaultNetwork() string {
	if p.binary == "podman" {
		return "podman"
	}
	return "bridge"
}

// Name returns the runtime binary.
func (p *ContainerProvider) Name() string {
	return p.binary
}

// Create starts a detached, locked-down container that idles until steps are
// executed in it.
func (p *ContainerProvider) Create(ctx context.Context, spec Spec) (Instance, error) {
	name := p.newName()
	args := p.runArgs(name, spec)

	p.logger.Debug("creating container",
		zap.String("container", name),
		zap.String("image", spec.Image),
		zap.Bool("network", spec.Network))

	res, err := p.cmdRunner.RunCommand(ctx, Command{Args: args, MaxOutput: controlOutputLimit})
	if err != nil || res.ExitCode != 0 {
		// a failed `run -d` may still leave a created container behind
		p.forceRemove(ctx, name)
		if err != nil {
			return nil, infraError("failed to start container: %v", err)
		}
		return nil, infraError("failed to start container (exit %d): %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	return &containerInstance{
		provider:  p,
		name:      name,
		maxOutput: spec.MaxOutputBytes,
		networked: spec.Network,
	}, nil
}

func (p *ContainerProvider) runArgs(name string, spec Spec) []string {
	args := []string{
		p.binary, "run",
		"--detach",
		"--rm",
		"--name", name,
		"--label", containerLabel,
	}

	if spec.Network {
		args = append(args, "--network", "bridge")
		for _, dns := range spec.DNS {
			args = append(args, "--dns", dns)
		}
	} else {
		args = append(args, "--network", "none")
	}

	memory := fmt.Sprintf("%dm", spec.MemoryMB)
	args = append(args,
		"--memory", memory,
		"--memory-swap", memory,
		"--cpus", strconv.FormatFloat(spec.CPUs, 'f', -1, 64),
		"--pids-limit", strconv.Itoa(spec.PIDsLimit),
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--read-only",
		"--tmpfs", tmpfsMount(workspaceDir, spec.WorkspaceSizeMB, spec.ExecutableStorage),
		"--tmpfs", tmpfsMount(tmpDir, spec.TmpSizeMB, false),
	)

	if spec.Cache != nil {
		args = append(args, "--tmpfs", tmpfsMount(spec.Cache.Path, spec.Cache.SizeMB, true))
	}

	if spec.User != "" {
		args = append(args, "--user", spec.User)
	}

	args = append(args, "--workdir", workspaceDir)

	for _, kv := range spec.Env {
		args = append(args, "--env", kv)
	}

	lifetime := spec.Lifetime + lifetimeGrace
	args = append(args,
		"--entrypoint", "sleep",
		spec.Image,
		strconv.Itoa(int(lifetime.Seconds())),
	)

	return args
}

func tmpfsMount(target string, sizeMB int, executable bool) string {
	opts := []string{"rw", "nosuid", "nodev", "mode=1777"}
	if sizeMB > 0 {
		opts = append(opts, fmt.Sprintf("size=%dm", sizeMB))
	}
	if executable {
		opts = append(opts, "exec")
	} else {
		opts = append(opts, "noexec")
	}
	return target + ":" + strings.Join(opts, ",")
}

func (p *ContainerProvider) forceRemove(ctx context.Context, name string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), killTimeout)
	defer cancel()
	if _, err := p.cmdRunner.RunCommand(rmCtx, Command{
		Args:      []string{p.binary, "rm", "--force", name},
		MaxOutput: controlOutputLimit,
	}); err != nil {
		p.logger.Warn("failed to remove container", zap.String("container", name), zap.Error(err))
	}
}

// runtimeFailure reports whether a non-zero exit came from the container
// runtime rather than from the process inside the container. The exit code
// alone is not enough: a program may exit with 125-127 itself.
func runtimeFailure(res CommandResult) bool {
	stderr := strings.ToLower(strings.TrimSpace(res.Stderr))
	if res.ExitCode >= 125 && res.ExitCode <= 127 && strings.Contains(stderr, "oci runtime") {
		return true
	}
	return strings.HasPrefix(stderr, "error response from daemon") ||
		strings.HasPrefix(stderr, "cannot connect to the docker daemon")
}

// alreadyRemoved reports whether rm failed because the container is gone or
// is being removed by --rm after it stopped.
func alreadyRemoved(stderr string) bool {
	stderr = strings.ToLower(stderr)
	return strings.Contains(stderr, "no such container") ||
		strings.Contains(stderr, "is already in progress")
}

type containerInstance struct {
	provider  *ContainerProvider
	name      string
	maxOutput int
	networked bool
}

func (c *containerInstance) ID() string {
	return c.name
}

func (c *containerInstance) Upload(ctx context.Context, archive []byte) error {
	res, err := c.provider.cmdRunner.RunCommand(ctx, Command{
		Args:      []string{c.provider.binary, "exec", "--interactive", c.name, "tar", "-xzf", "-", "-C", workspaceDir},
		Stdin:     archive,
		MaxOutput: controlOutputLimit,
	})
	if err != nil {
		return infraError("failed to upload workspace: %v", err)
	}
	if res.ExitCode != 0 {
		return infraError("failed to upload workspace (exit %d): %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (c *containerInstance) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	args := []string{c.provider.binary, "exec"}
	if req.Stdin != nil {
		args = append(args, "--interactive")
	}
	args = append(args, c.name)
	args = append(args, req.Args...)

	res, err := c.provider.cmdRunner.RunCommand(ctx, Command{
		Args:      args,
		Stdin:     req.Stdin,
		MaxOutput: c.maxOutput,
	})
	out := ExecResult{
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		Combined:  res.Combined,
		ExitCode:  res.ExitCode,
		Truncated: res.Truncated,
	}

	if ctx.Err() != nil {
		// killing the CLI client leaves the process running in the container
		c.kill(ctx)
		return out, ctx.Err()
	}
	if err != nil {
		return out, infraError("failed to exec in container: %v", err)
	}
	if res.ExitCode != 0 && runtimeFailure(res) {
		return out, infraError("container runtime error (exit %d): %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	return out, nil
}

func (c *containerInstance) kill(ctx context.Context) {
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), killTimeout)
	defer cancel()
	if _, err := c.provider.cmdRunner.RunCommand(killCtx, Command{
		Args:      []string{c.provider.binary, "kill", c.name},
		MaxOutput: controlOutputLimit,
	}); err != nil {
		c.provider.logger.Warn("failed to kill container", zap.String("container", c.name), zap.Error(err))
	}
}

// Isolate disconnects the container from its network.
func (c *containerInstance) Isolate(ctx context.Context) error {
	if !c.networked {
		return nil
	}
	res, err := c.provider.cmdRunner.RunCommand(ctx, Command{
		Args:      []string{c.provider.binary, "network", "disconnect", c.provider.defaultNetwork(), c.name},
		MaxOutput: controlOutputLimit,
	})
	if err != nil {
		return infraError("failed to disconnect network: %v", err)
	}
	if res.ExitCode != 0 {
		return infraError("failed to disconnect network (exit %d): %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	c.networked = false
	return nil
}

// cgroup v2 first, then v1.
var memoryPeakFiles = []string{
	"/sys/fs/cgroup/memory.peak",
	"/sys/fs/cgroup/memory/memory.max_usage_in_bytes",
}

// PeakMemoryKB reads the container cgroup's peak memory.
func (c *containerInstance) PeakMemoryKB(ctx context.Context) (int64, bool) {
	for _, file := range memoryPeakFiles {
		res, err := c.provider.cmdRunner.RunCommand(ctx, Command{
			Args:      []string{c.provider.binary, "exec", c.name, "cat", file},
			MaxOutput: controlOutputLimit,
		})
		if err != nil || res.ExitCode != 0 {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		return n / BytesPerKB, true
	}
	return 0, false
}

// Destroy removes the container. A container that is already gone, or whose
// removal is already under way, counts as destroyed.
func (c *containerInstance) Destroy(ctx context.Context) error {
	res, err := c.provider.cmdRunner.RunCommand(ctx, Command{
		Args:      []string{c.provider.binary, "rm", "--force", c.name},
		MaxOutput: controlOutputLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", c.name, err)
	}
	if res.ExitCode != 0 && !alreadyRemoved(res.Stderr) {
		return fmt.Errorf("failed to remove container %s (exit %d): %s", c.name, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}
