// Package main is the entry point for the runbox execution service.
//
// runbox compiles and runs untrusted submissions (single source files or
// Maven-style projects) inside disposable containers and reports a classified
// outcome. The serve command exposes the engine as an MCP tool over stdio or
// streamable HTTP and as a REST API; the run command executes one file from
// the command line.
//
// The serve command uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
