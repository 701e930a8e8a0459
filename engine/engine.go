package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/isdmx/runbox/classifier"
	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/execution"
	"github.com/isdmx/runbox/plan"
	"github.com/isdmx/runbox/policy"
	"github.com/isdmx/runbox/sandbox"
)

// CapacityDiagnostic is returned when no execution slot became free.
const CapacityDiagnostic = "Execution capacity exhausted, please try again later"

// Engine executes source units.
type Engine struct {
	logger     *zap.Logger
	cfg        config.SandboxConfig
	filter     *policy.Filter
	selector   *plan.Selector
	runner     *sandbox.Runner
	reclaimer  *sandbox.Reclaimer
	classifier *classifier.Classifier
	gate       *semaphore.Weighted
	metrics    *Metrics
}

// Option defines a functional option for Engine
type Option func(*Engine)

// WithMetrics sets the collectors the engine reports to.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithFilter overrides the dependency policy filter.
func WithFilter(f *policy.Filter) Option {
	return func(e *Engine) {
		e.filter = f
	}
}

// New creates an Engine running plans on the given provider.
func New(logger *zap.Logger, cfg *config.Config, provider sandbox.Provider, opts ...Option) (*Engine, error) {
	selector, err := plan.NewSelector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build plan selector: %w", err)
	}

	e := &Engine{
		logger:     logger,
		cfg:        cfg.Sandbox,
		selector:   selector,
		runner:     sandbox.NewRunner(logger),
		classifier: classifier.New(cfg.Sandbox.DiagnosticLimit, cfg.Sandbox.MaxOutputBytes),
		gate:       semaphore.NewWeighted(int64(cfg.Sandbox.MaxConcurrent)),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	if e.filter == nil {
		if e.filter, err = policy.Load(cfg.Policy.SignaturesFile); err != nil {
			return nil, fmt.Errorf("failed to load dependency policy: %w", err)
		}
	}

	e.reclaimer = sandbox.NewReclaimer(logger, provider,
		cfg.Sandbox.CreateTimeout(), cfg.Sandbox.CleanupTimeout(),
		sandbox.WithCleanupErrorHook(func(error) {
			e.metrics.cleanupFailures.Inc()
		}))

	return e, nil
}

// Languages lists the languages the engine accepts.
func (e *Engine) Languages() []plan.LanguageInfo {
	return e.selector.Languages()
}

// Execute runs one unit and classifies the result. It never returns an error:
// every failure is an Outcome.
func (e *Engine) Execute(ctx context.Context, unit execution.SourceUnit) (out execution.Outcome) {
	log := e.logger.With(
		zap.String("execution_id", uuid.NewString()),
		zap.String("language", unit.Language),
		zap.String("project_type", string(unit.ProjectType)))

	defer func() { e.observe(log, out) }()

	unit, err := e.validate(unit)
	if err != nil {
		return execution.Rejected(execution.StatusValidationFailed, err.Error())
	}

	if v := e.filter.Screen(unit); v != nil {
		out = execution.Rejected(execution.StatusPolicyViolation, v.Error())
		out.Capability = v.Capability
		return out
	}

	p, err := e.selector.Select(unit.Language, unit.ProjectType, plan.DetectAnnotatedTests(unit.Code))
	if err != nil {
		return execution.Rejected(execution.StatusValidationFailed,
			(&execution.ValidationError{Reason: err.Error()}).Error())
	}

	if err := e.admit(ctx); err != nil {
		e.metrics.admissionRejections.Inc()
		log.Warn("execution rejected, no free slot", zap.Error(err))
		return execution.Outcome{
			Status:     execution.StatusInfraFailed,
			Diagnostic: CapacityDiagnostic,
			Plan:       string(p.Kind),
		}
	}
	defer e.gate.Release(1)

	e.metrics.inFlight.Inc()
	defer e.metrics.inFlight.Dec()

	return e.run(ctx, log, p, unit)
}

func (e *Engine) admit(ctx context.Context) error {
	if e.gate.TryAcquire(1) {
		return nil
	}
	if timeout := e.cfg.AdmissionTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return e.gate.Acquire(ctx, 1)
}

func (e *Engine) run(ctx context.Context, log *zap.Logger, p plan.BuildPlan, unit execution.SourceUnit) (out execution.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during execution", zap.Any("panic", r), zap.Stack("stack"))
			out = execution.Outcome{
				Status:     execution.StatusInfraFailed,
				Diagnostic: classifier.InfraDiagnostic,
				Plan:       string(p.Kind),
			}
		}
	}()

	var raw sandbox.RawResult
	err := e.reclaimer.Scope(ctx, sandbox.DeriveSpec(p, e.cfg), func(inst sandbox.Instance) {
		log.Debug("sandbox instance created", zap.String("instance", inst.ID()), zap.String("plan", string(p.Kind)))
		raw = e.runner.Run(ctx, p, unit, inst)
	})
	if err != nil {
		raw = sandbox.RawResult{InfraError: err}
	}

	if raw.InfraError != nil {
		log.Error("sandbox infrastructure failure", zap.String("plan", string(p.Kind)), zap.Error(raw.InfraError))
	}

	return e.classifier.Classify(raw, p)
}

func (e *Engine) observe(log *zap.Logger, out execution.Outcome) {
	planLabel := out.Plan
	if planLabel == "" {
		planLabel = noPlan
	}
	e.metrics.executions.WithLabelValues(string(out.Status), planLabel).Inc()
	if out.Plan != "" && out.Status != execution.StatusInfraFailed {
		e.metrics.duration.WithLabelValues(out.Plan).Observe(out.Elapsed.Seconds())
	}

	fields := []zap.Field{
		zap.String("status", string(out.Status)),
		zap.String("plan", planLabel),
		zap.Duration("elapsed", out.Elapsed),
	}
	if out.MemoryKB != nil {
		fields = append(fields, zap.Int64("memory_kb", *out.MemoryKB))
	}
	if out.Capability != "" {
		fields = append(fields, zap.String("capability", out.Capability))
	}

	if out.Status == execution.StatusInfraFailed {
		log.Error("execution finished", fields...)
		return
	}
	log.Info("execution finished", fields...)
}

// validate checks the unit and returns it with defaults applied.
func (e *Engine) validate(unit execution.SourceUnit) (execution.SourceUnit, error) {
	if strings.TrimSpace(unit.Code) == "" {
		return unit, &execution.ValidationError{Field: "code", Reason: "is required and must be a string"}
	}
	if len(unit.Code) > e.cfg.MaxCodeBytes {
		return unit, &execution.ValidationError{
			Field:  "code",
			Reason: fmt.Sprintf("is too long (max %d bytes)", e.cfg.MaxCodeBytes),
		}
	}
	if e.cfg.MaxInputBytes > 0 && len(unit.Stdin) > e.cfg.MaxInputBytes {
		return unit, &execution.ValidationError{
			Field:  "input",
			Reason: fmt.Sprintf("is too long (max %d bytes)", e.cfg.MaxInputBytes),
		}
	}

	unit.Language = strings.ToLower(strings.TrimSpace(unit.Language))
	if unit.Language == "" {
		return unit, &execution.ValidationError{Field: "language", Reason: "is required"}
	}
	if !e.selector.Has(unit.Language) {
		return unit, &execution.ValidationError{
			Field:  "language",
			Reason: fmt.Sprintf("%q is not supported", unit.Language),
		}
	}

	if unit.ProjectType == "" {
		unit.ProjectType = execution.ProjectStandalone
	}
	projectType, err := execution.ParseProjectType(string(unit.ProjectType))
	if err != nil {
		return unit, &execution.ValidationError{Field: "projectType", Reason: fmt.Sprintf("%q is not supported", unit.ProjectType)}
	}
	unit.ProjectType = projectType

	switch unit.ProjectType {
	case execution.ProjectDeclarative:
		if !e.selector.SupportsDeclarative(unit.Language) {
			return unit, &execution.ValidationError{
				Field:  "projectType",
				Reason: fmt.Sprintf("declarative is not supported for %s", unit.Language),
			}
		}
		if !unit.HasBuildDescriptor() {
			return unit, &execution.ValidationError{Field: "buildDescriptor", Reason: "is required for declarative projects"}
		}
		if len(unit.BuildDescriptor) > e.cfg.MaxCodeBytes {
			return unit, &execution.ValidationError{
				Field:  "buildDescriptor",
				Reason: fmt.Sprintf("is too long (max %d bytes)", e.cfg.MaxCodeBytes),
			}
		}
	case execution.ProjectStandalone:
		if unit.HasBuildDescriptor() {
			return unit, &execution.ValidationError{Field: "buildDescriptor", Reason: "is only accepted for declarative projects"}
		}
	}

	return unit, nil
}
