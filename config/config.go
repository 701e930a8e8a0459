package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	API       APIConfig           `mapstructure:"api"`
	Sandbox   SandboxConfig       `mapstructure:"sandbox"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Languages map[string]Language `mapstructure:"languages"`
	Project   ProjectConfig       `mapstructure:"project"`
	Policy    PolicyConfig        `mapstructure:"policy"`
}

// ServerConfig holds MCP server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// APIConfig holds the REST API configuration
type APIConfig struct {
	Enabled      bool  `mapstructure:"enabled"`
	Port         int   `mapstructure:"port"`
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// SandboxConfig holds sandbox resource ceilings and timeouts
type SandboxConfig struct {
	Backend            string `mapstructure:"backend"`
	IsolationEnabled   bool   `mapstructure:"isolation_enabled"`
	EnableLocalBackend bool   `mapstructure:"enable_local_backend"`

	ExecutionTimeoutMs      int `mapstructure:"execution_timeout_ms"`
	BuildTimeoutMs          int `mapstructure:"build_timeout_ms"`
	DeclarativeRunTimeoutMs int `mapstructure:"declarative_run_timeout_ms"`
	PlanCeilingMs           int `mapstructure:"plan_ceiling_ms"`
	CreateTimeoutMs         int `mapstructure:"create_timeout_ms"`
	CleanupTimeoutMs        int `mapstructure:"cleanup_timeout_ms"`
	AdmissionTimeoutMs      int `mapstructure:"admission_timeout_ms"`

	MemoryMB      int     `mapstructure:"memory_mb"`
	CPUs          float64 `mapstructure:"cpus"`
	PIDsLimit     int     `mapstructure:"pids_limit"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`

	MaxCodeBytes    int `mapstructure:"max_code_bytes"`
	MaxInputBytes   int `mapstructure:"max_input_bytes"`
	MaxOutputBytes  int `mapstructure:"max_output_bytes"`
	DiagnosticLimit int `mapstructure:"diagnostic_limit"`

	WorkspaceSizeMB   int      `mapstructure:"workspace_size_mb"`
	TmpSizeMB         int      `mapstructure:"tmp_size_mb"`
	DependencyNetwork bool     `mapstructure:"dependency_network"`
	DNS               []string `mapstructure:"dns"`
	User              string   `mapstructure:"user"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Language kinds
const (
	KindCompiled = "compiled"
	KindScripted = "scripted"
)

// Language describes how a single-file submission is built and run.
// Commands are argv templates split without a shell.
type Language struct {
	Kind        string   `mapstructure:"kind"`
	Image       string   `mapstructure:"image"`
	SourceFile  string   `mapstructure:"source_file"`
	CompileCmd  string   `mapstructure:"compile_cmd"`
	RunCmd      string   `mapstructure:"run_cmd"`
	Toolchain   string   `mapstructure:"toolchain"`
	ExecStorage bool     `mapstructure:"exec_storage"`
	Environment []string `mapstructure:"environment"` // KEY=VALUE
}

// ProjectConfig describes the declarative project toolchain.
type ProjectConfig struct {
	Image          string   `mapstructure:"image"`
	DescriptorFile string   `mapstructure:"descriptor_file"`
	MainSource     string   `mapstructure:"main_source"`
	TestSource     string   `mapstructure:"test_source"`
	BuildCmd       string   `mapstructure:"build_cmd"`
	RunCmd         string   `mapstructure:"run_cmd"`
	TestCmd        string   `mapstructure:"test_cmd"`
	Toolchain      string   `mapstructure:"toolchain"`
	CacheDir       string   `mapstructure:"cache_dir"`
	CacheSizeMB    int      `mapstructure:"cache_size_mb"`
	Languages      []string `mapstructure:"languages"`
	Environment    []string `mapstructure:"environment"` // KEY=VALUE
}

// SupportsLanguage reports whether declarative projects accept the language.
func (p ProjectConfig) SupportsLanguage(language string) bool {
	for _, l := range p.Languages {
		if l == language {
			return true
		}
	}
	return false
}

// PolicyConfig holds dependency policy configuration
type PolicyConfig struct {
	SignaturesFile string `mapstructure:"signatures_file"`
}

const mavenFlags = "-B -Djansi.force=false -Dstyle.color=never"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 3001)
	v.SetDefault("api.max_body_bytes", 1<<20)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.isolation_enabled", true)
	v.SetDefault("sandbox.enable_local_backend", false)
	v.SetDefault("sandbox.execution_timeout_ms", 5000)
	v.SetDefault("sandbox.build_timeout_ms", 240000)
	v.SetDefault("sandbox.declarative_run_timeout_ms", 30000)
	v.SetDefault("sandbox.plan_ceiling_ms", 300000)
	v.SetDefault("sandbox.create_timeout_ms", 30000)
	v.SetDefault("sandbox.cleanup_timeout_ms", 15000)
	v.SetDefault("sandbox.admission_timeout_ms", 10000)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.cpus", 1.0)
	v.SetDefault("sandbox.pids_limit", 50)
	v.SetDefault("sandbox.max_concurrent", 4)
	v.SetDefault("sandbox.max_code_bytes", 50000)
	v.SetDefault("sandbox.max_input_bytes", 1<<20)
	v.SetDefault("sandbox.max_output_bytes", 1<<20)
	v.SetDefault("sandbox.diagnostic_limit", 2000)
	v.SetDefault("sandbox.workspace_size_mb", 150)
	v.SetDefault("sandbox.tmp_size_mb", 10)
	v.SetDefault("sandbox.dependency_network", true)
	v.SetDefault("sandbox.dns", []string{"8.8.8.8", "8.8.4.4"})
	v.SetDefault("sandbox.user", "")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	// Java defaults
	v.SetDefault("languages.java.kind", KindCompiled)
	v.SetDefault("languages.java.image", "eclipse-temurin:17-jdk-alpine")
	v.SetDefault("languages.java.source_file", "Main.java")
	v.SetDefault("languages.java.compile_cmd", "javac Main.java")
	v.SetDefault("languages.java.run_cmd", "java -Xss16m Main")
	v.SetDefault("languages.java.toolchain", "javac")

	// C++ defaults
	v.SetDefault("languages.cpp.kind", KindCompiled)
	v.SetDefault("languages.cpp.image", "gcc:13")
	v.SetDefault("languages.cpp.source_file", "main.cpp")
	v.SetDefault("languages.cpp.compile_cmd", "g++ -std=c++17 -O2 -o main main.cpp")
	v.SetDefault("languages.cpp.run_cmd", "./main")
	v.SetDefault("languages.cpp.toolchain", "gcc")
	v.SetDefault("languages.cpp.exec_storage", true)

	// Python defaults
	v.SetDefault("languages.python.kind", KindScripted)
	v.SetDefault("languages.python.image", "python:3.11-slim")
	v.SetDefault("languages.python.source_file", "main.py")
	v.SetDefault("languages.python.run_cmd", "python3 -u main.py")
	v.SetDefault("languages.python.toolchain", "python")
	v.SetDefault("languages.python.environment", []string{"PYTHONDONTWRITEBYTECODE=1"})

	// Node.js defaults
	v.SetDefault("languages.nodejs.kind", KindScripted)
	v.SetDefault("languages.nodejs.image", "node:20-alpine")
	v.SetDefault("languages.nodejs.source_file", "index.js")
	v.SetDefault("languages.nodejs.run_cmd", "node index.js")
	v.SetDefault("languages.nodejs.toolchain", "node")

	// Maven project defaults
	v.SetDefault("project.image", "maven:3.9-eclipse-temurin-17-alpine")
	v.SetDefault("project.descriptor_file", "pom.xml")
	v.SetDefault("project.main_source", "src/main/java/com/example/Main.java")
	v.SetDefault("project.test_source", "src/test/java/com/example/MainTest.java")
	v.SetDefault("project.build_cmd", "mvn "+mavenFlags+" -q compile")
	v.SetDefault("project.run_cmd", "mvn "+mavenFlags+" -q exec:java -Dexec.mainClass=com.example.Main")
	v.SetDefault("project.test_cmd", "mvn "+mavenFlags+" clean test")
	v.SetDefault("project.toolchain", "maven")
	v.SetDefault("project.cache_dir", "/root/.m2")
	v.SetDefault("project.cache_size_mb", 400)
	v.SetDefault("project.languages", []string{"java"})

	v.SetDefault("policy.signatures_file", "")
}

// legacyEnv maps configuration keys onto the environment names used by
// earlier deployments of the execution service.
var legacyEnv = map[string]string{
	"sandbox.execution_timeout_ms": "EXECUTION_TIMEOUT",
	"sandbox.plan_ceiling_ms":      "MAVEN_TIMEOUT",
	"sandbox.build_timeout_ms":     "MAVEN_COMPILE_TIMEOUT",
	"sandbox.isolation_enabled":    "DOCKER_ENABLED",
	"sandbox.memory_mb":            "MAX_MEMORY_MB",
	"sandbox.max_concurrent":       "MAX_CONCURRENT_EXECUTIONS",
	"api.port":                     "PORT",
}

// New loads the configuration from the default search paths.
func New() (*Config, error) {
	return Load("")
}

// Load loads and validates the application configuration. When path is empty
// config.yaml is searched in . and ./config and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RUNBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "RUNBOX_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("error binding env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.normalize()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// normalize applies derived settings after unmarshaling.
func (c *Config) normalize() {
	// Disabling isolation is an explicit opt-in to the local backend.
	if !c.Sandbox.IsolationEnabled {
		c.Sandbox.Backend = "local"
		c.Sandbox.EnableLocalBackend = true
	}
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	switch c.Server.Transport {
	case "stdio", "http", "none":
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio', 'http' or 'none'", c.Server.Transport)
	}

	switch c.Logging.Mode {
	case "production", "development":
	default:
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	s := c.Sandbox
	positive := []struct {
		name  string
		value int
	}{
		{"sandbox.execution_timeout_ms", s.ExecutionTimeoutMs},
		{"sandbox.build_timeout_ms", s.BuildTimeoutMs},
		{"sandbox.declarative_run_timeout_ms", s.DeclarativeRunTimeoutMs},
		{"sandbox.plan_ceiling_ms", s.PlanCeilingMs},
		{"sandbox.create_timeout_ms", s.CreateTimeoutMs},
		{"sandbox.cleanup_timeout_ms", s.CleanupTimeoutMs},
		{"sandbox.memory_mb", s.MemoryMB},
		{"sandbox.pids_limit", s.PIDsLimit},
		{"sandbox.max_concurrent", s.MaxConcurrent},
		{"sandbox.max_code_bytes", s.MaxCodeBytes},
		{"sandbox.max_output_bytes", s.MaxOutputBytes},
		{"sandbox.diagnostic_limit", s.DiagnosticLimit},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got: %d", p.name, p.value)
		}
	}

	if s.CPUs <= 0 {
		return fmt.Errorf("sandbox.cpus must be positive, got: %v", s.CPUs)
	}

	if s.PlanCeilingMs < s.BuildTimeoutMs {
		return fmt.Errorf("sandbox.plan_ceiling_ms (%d) must not be below sandbox.build_timeout_ms (%d)", s.PlanCeilingMs, s.BuildTimeoutMs)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  s.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[s.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", s.Backend)
	}

	if len(c.Languages) == 0 {
		return fmt.Errorf("at least one language must be configured")
	}

	for name, lang := range c.Languages {
		if err := lang.validate(); err != nil {
			return fmt.Errorf("languages.%s: %w", name, err)
		}
	}

	for _, name := range c.Project.Languages {
		if _, ok := c.Languages[name]; !ok {
			return fmt.Errorf("project.languages references unknown language: %s", name)
		}
	}

	return nil
}

func (l Language) validate() error {
	switch l.Kind {
	case KindCompiled:
		if strings.TrimSpace(l.CompileCmd) == "" {
			return fmt.Errorf("compile_cmd is required for compiled languages")
		}
	case KindScripted:
	default:
		return fmt.Errorf("invalid kind: %q, must be '%s' or '%s'", l.Kind, KindCompiled, KindScripted)
	}

	if l.SourceFile == "" {
		return fmt.Errorf("source_file is required")
	}

	if strings.TrimSpace(l.RunCmd) == "" {
		return fmt.Errorf("run_cmd is required")
	}

	for _, kv := range l.Environment {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("environment entry %q must be KEY=VALUE", kv)
		}
	}

	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// ExecutionTimeout returns the short run timeout.
func (s SandboxConfig) ExecutionTimeout() time.Duration { return ms(s.ExecutionTimeoutMs) }

// BuildTimeout returns the long dependency-resolution/compile timeout.
func (s SandboxConfig) BuildTimeout() time.Duration { return ms(s.BuildTimeoutMs) }

// DeclarativeRunTimeout returns the run timeout after a declarative build.
func (s SandboxConfig) DeclarativeRunTimeout() time.Duration { return ms(s.DeclarativeRunTimeoutMs) }

// PlanCeiling returns the wall-clock ceiling of a whole build plan.
func (s SandboxConfig) PlanCeiling() time.Duration { return ms(s.PlanCeilingMs) }

// CreateTimeout bounds creation of an isolated context.
func (s SandboxConfig) CreateTimeout() time.Duration { return ms(s.CreateTimeoutMs) }

// CleanupTimeout bounds teardown of an isolated context.
func (s SandboxConfig) CleanupTimeout() time.Duration { return ms(s.CleanupTimeoutMs) }

// AdmissionTimeout bounds the wait for a free execution slot. Zero means the
// wait is bounded only by the caller's context.
func (s SandboxConfig) AdmissionTimeout() time.Duration { return ms(s.AdmissionTimeoutMs) }
