// Package plan maps a (language, project type, test-suite) tuple onto one of
// the fixed build/run strategies.
//
// Plans are immutable values built from configuration once at startup. Every
// command is an argv list split from its configured template with shlex; no
// plan step is ever interpreted by a shell.
package plan
