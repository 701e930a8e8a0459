// Package sandbox provides isolated execution contexts for untrusted code.
//
// A Provider creates one Instance per request. The Instance is the only place
// user code runs: the workspace archive is uploaded into it, each plan step is
// executed inside it and it is destroyed when the request finishes. Docker and
// Podman instances are locked-down containers; the local provider runs steps
// as host processes and exists for development only.
//
// The Reclaimer scopes an Instance to a single request so every successful
// Create is paired with exactly one Destroy, including on panics and
// timeouts. The Runner drives a plan.BuildPlan through an Instance and returns
// the raw process output for classification.
//
// Usage:
//
//	provider, err := sandbox.NewProvider(logger, cfg.Sandbox)
//	reclaimer := sandbox.NewReclaimer(logger, provider, cfg.Sandbox.CreateTimeout(), cfg.Sandbox.CleanupTimeout())
//	err = reclaimer.Scope(ctx, sandbox.DeriveSpec(p, cfg.Sandbox), func(inst sandbox.Instance) {
//	    raw = sandbox.NewRunner(logger).Run(ctx, p, unit, inst)
//	})
package sandbox
