package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
)

// NewProvider creates the provider selected by the sandbox configuration
func NewProvider(logger *zap.Logger, cfg config.SandboxConfig) (Provider, error) {
	switch cfg.Backend {
	case "docker", "podman":
		return NewContainerProvider(logger, cfg.Backend), nil
	case "local":
		if !cfg.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled")
		}
		return NewLocalProvider(logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}
