// Package classifier turns the raw output of a plan run into exactly one
// execution status with a bounded, scrubbed diagnostic.
//
// Toolchain-specific output markers live in a single table keyed by
// toolchain name. The decision order is fixed: infrastructure failure,
// timeout, build failure, authoritative test success, runtime failure and
// finally success.
package classifier
