// Package config provides application configuration management.
//
// The config package loads the process-wide configuration once at startup
// from defaults, an optional YAML file and the environment, validates it, and
// hands a read-only *Config to every component by injection. It covers server
// transports, sandbox resource ceilings and timeouts, the language table and
// the declarative project toolchain.
//
// Usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Execution timeout: %s\n", cfg.Sandbox.ExecutionTimeout())
package config
