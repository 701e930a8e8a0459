package sandbox

import (
	"slices"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/plan"
)

// DeriveSpec computes the resource envelope for a plan. Network access is
// granted only when the plan needs it and dependency network is enabled.
func DeriveSpec(p plan.BuildPlan, cfg config.SandboxConfig) Spec {
	spec := Spec{
		Image:             p.Image,
		MemoryMB:          cfg.MemoryMB,
		CPUs:              cfg.CPUs,
		PIDsLimit:         cfg.PIDsLimit,
		Network:           p.NeedsNetwork && cfg.DependencyNetwork,
		WorkspaceSizeMB:   cfg.WorkspaceSizeMB,
		TmpSizeMB:         cfg.TmpSizeMB,
		ExecutableStorage: p.ExecutableStorage,
		Env:               slices.Clone(p.Env),
		User:              cfg.User,
		Lifetime:          p.Total,
		MaxOutputBytes:    cfg.MaxOutputBytes,
	}
	if spec.Network {
		spec.DNS = slices.Clone(cfg.DNS)
	}
	if p.Cache != nil {
		c := *p.Cache
		spec.Cache = &c
	}
	return spec
}
