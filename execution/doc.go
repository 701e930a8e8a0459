// Package execution defines the data model shared by every stage of the
// execution pipeline.
//
// A SourceUnit is the per-call input: code, stdin, language and an optional
// build descriptor. An Outcome is the single classified result handed back to
// the caller, and Response is its flattened wire projection.
//
// Usage:
//
//	unit := execution.SourceUnit{
//	    Code:        src,
//	    Stdin:       "hello",
//	    Language:    "java",
//	    ProjectType: execution.ProjectStandalone,
//	}
//	resp := engine.Execute(ctx, unit).Response()
package execution
