package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Sandbox: SandboxConfig{
			Backend:                 "docker",
			IsolationEnabled:        true,
			ExecutionTimeoutMs:      5000,
			BuildTimeoutMs:          240000,
			DeclarativeRunTimeoutMs: 30000,
			PlanCeilingMs:           300000,
			CreateTimeoutMs:         30000,
			CleanupTimeoutMs:        15000,
			MemoryMB:                256,
			CPUs:                    1,
			PIDsLimit:               50,
			MaxConcurrent:           4,
			MaxCodeBytes:            50000,
			MaxOutputBytes:          1 << 20,
			DiagnosticLimit:         2000,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
		Languages: map[string]Language{
			"java": {
				Kind:       KindCompiled,
				SourceFile: "Main.java",
				CompileCmd: "javac Main.java",
				RunCmd:     "java Main",
			},
		},
		Project: ProjectConfig{Languages: []string{"java"}},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	tests := []struct {
		name    string
		mutate  func(c *Config)
		message string
	}{
		{"InvalidServerTransport", func(c *Config) { c.Server.Transport = "invalid" }, "invalid server.transport"},
		{"InvalidLoggingMode", func(c *Config) { c.Logging.Mode = "invalid_mode" }, "invalid logging.mode"},
		{"InvalidLogLevel", func(c *Config) { c.Logging.Level = "invalid_level" }, "invalid logging.level"},
		{"InvalidExecutionTimeout", func(c *Config) { c.Sandbox.ExecutionTimeoutMs = 0 }, "sandbox.execution_timeout_ms must be positive"},
		{"InvalidMemory", func(c *Config) { c.Sandbox.MemoryMB = 0 }, "sandbox.memory_mb must be positive"},
		{"InvalidConcurrency", func(c *Config) { c.Sandbox.MaxConcurrent = 0 }, "sandbox.max_concurrent must be positive"},
		{"InvalidCPUs", func(c *Config) { c.Sandbox.CPUs = 0 }, "sandbox.cpus must be positive"},
		{"CeilingBelowBuildTimeout", func(c *Config) { c.Sandbox.PlanCeilingMs = 1000 }, "must not be below sandbox.build_timeout_ms"},
		{"LocalBackendNotEnabled", func(c *Config) { c.Sandbox.Backend = "local" }, "unsupported sandbox.backend"},
		{"UnknownBackend", func(c *Config) { c.Sandbox.Backend = "kubernetes" }, "unsupported sandbox.backend"},
		{"NoLanguages", func(c *Config) { c.Languages = nil }, "at least one language"},
		{"InvalidLanguageKind", func(c *Config) {
			c.Languages["java"] = Language{Kind: "jit", SourceFile: "Main.java", RunCmd: "java Main"}
		}, "languages.java: invalid kind"},
		{"CompiledWithoutCompileCmd", func(c *Config) {
			c.Languages["java"] = Language{Kind: KindCompiled, SourceFile: "Main.java", RunCmd: "java Main"}
		}, "compile_cmd is required"},
		{"BadEnvironmentEntry", func(c *Config) {
			c.Languages["java"] = Language{Kind: KindScripted, SourceFile: "a.sh", RunCmd: "sh a.sh", Environment: []string{"NOEQUALS"}}
		}, "must be KEY=VALUE"},
		{"ProjectUnknownLanguage", func(c *Config) { c.Project.Languages = []string{"kotlin"} }, "unknown language: kotlin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	t.Run("ValidBackendWhenLocalEnabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Backend = "local"
		cfg.Sandbox.EnableLocalBackend = true
		require.NoError(t, cfg.validate())
	})
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "docker", cfg.Sandbox.Backend)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.ExecutionTimeout())
	assert.Equal(t, 240*time.Second, cfg.Sandbox.BuildTimeout())
	assert.Equal(t, 300*time.Second, cfg.Sandbox.PlanCeiling())
	assert.Equal(t, 256, cfg.Sandbox.MemoryMB)
	assert.Equal(t, 50000, cfg.Sandbox.MaxCodeBytes)
	assert.Equal(t, []string{"8.8.8.8", "8.8.4.4"}, cfg.Sandbox.DNS)

	require.Contains(t, cfg.Languages, "java")
	assert.Equal(t, KindCompiled, cfg.Languages["java"].Kind)
	assert.Equal(t, "Main.java", cfg.Languages["java"].SourceFile)
	require.Contains(t, cfg.Languages, "python")
	assert.Equal(t, KindScripted, cfg.Languages["python"].Kind)
	assert.Equal(t, []string{"PYTHONDONTWRITEBYTECODE=1"}, cfg.Languages["python"].Environment)
	assert.True(t, cfg.Languages["cpp"].ExecStorage)

	assert.Equal(t, "pom.xml", cfg.Project.DescriptorFile)
	assert.True(t, cfg.Project.SupportsLanguage("java"))
	assert.False(t, cfg.Project.SupportsLanguage("python"))
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EXECUTION_TIMEOUT", "7000")
	t.Setenv("MAX_MEMORY_MB", "512")
	t.Setenv("DOCKER_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, cfg.Sandbox.ExecutionTimeout())
	assert.Equal(t, 512, cfg.Sandbox.MemoryMB)
	assert.False(t, cfg.Sandbox.IsolationEnabled)
	assert.Equal(t, "local", cfg.Sandbox.Backend)
	assert.True(t, cfg.Sandbox.EnableLocalBackend)
}

func TestLoadPrefixedEnvironmentWins(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EXECUTION_TIMEOUT", "7000")
	t.Setenv("RUNBOX_SANDBOX_EXECUTION_TIMEOUT_MS", "3000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.ExecutionTimeout())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runbox.yaml")
	content := `
server:
  transport: none
sandbox:
  backend: podman
  max_concurrent: 8
languages:
  ruby:
    kind: scripted
    image: ruby:3.3-alpine
    source_file: main.rb
    run_cmd: ruby main.rb
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Server.Transport)
	assert.Equal(t, "podman", cfg.Sandbox.Backend)
	assert.Equal(t, 8, cfg.Sandbox.MaxConcurrent)
	require.Contains(t, cfg.Languages, "ruby")
	assert.Equal(t, "ruby main.rb", cfg.Languages["ruby"].RunCmd)
	// defaults for other languages survive the merge
	assert.Contains(t, cfg.Languages, "java")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}
