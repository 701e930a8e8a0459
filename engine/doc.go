// Package engine wires the execution pipeline together.
//
// Execute validates a SourceUnit, screens it against the dependency policy,
// selects a build plan, waits for a free execution slot and runs the plan in
// a freshly created sandbox instance that is always reclaimed afterwards. Every
// call returns a structured Outcome; faults never escape as errors or panics.
package engine
