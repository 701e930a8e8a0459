package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/runbox/execution"
	"github.com/isdmx/runbox/plan"
)

// memoryProbeTimeout bounds the peak memory read after the last step.
const memoryProbeTimeout = 5 * time.Second

// StepResult is the captured outcome of one plan step.
type StepResult struct {
	Name      string
	Kind      plan.StepKind
	Stdout    string
	Stderr    string
	Combined  string
	ExitCode  int
	Elapsed   time.Duration
	TimedOut  bool
	Truncated bool
}

// Failed reports whether the step did not complete successfully.
func (s StepResult) Failed() bool {
	return s.TimedOut || s.ExitCode != 0
}

// RawResult is everything the classifier needs about one plan run.
type RawResult struct {
	Steps    []StepResult
	TimedOut bool
	// TimeoutLimit is the limit that was exceeded when TimedOut is set.
	TimeoutLimit time.Duration
	InfraError   error
	// Elapsed covers the plan steps only, excluding context creation and
	// workspace upload.
	Elapsed      time.Duration
	PeakMemoryKB *int64
	// Scrub lists substrings that identify the isolated context and must
	// not reach the caller.
	Scrub []string
}

// LastStep returns the last step that ran, or nil when none did.
func (r RawResult) LastStep() *StepResult {
	if len(r.Steps) == 0 {
		return nil
	}
	return &r.Steps[len(r.Steps)-1]
}

// FailedStep returns the first failed step, or nil.
func (r RawResult) FailedStep() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Failed() {
			return &r.Steps[i]
		}
	}
	return nil
}

// Runner drives a build plan through an instance.
type Runner struct {
	logger *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run uploads the unit and executes the plan steps in order. Each step is
// bounded by its own timeout and all steps together by the plan total. The
// first failed step ends the run.
func (r *Runner) Run(ctx context.Context, p plan.BuildPlan, unit execution.SourceUnit, inst Instance) RawResult {
	res := RawResult{Scrub: []string{inst.ID()}}

	archive, err := BuildWorkspaceArchive(p.Layout, unit)
	if err != nil {
		res.InfraError = infraError("failed to build workspace: %v", err)
		return res
	}

	planCtx, cancel := context.WithTimeout(ctx, p.Total)
	defer cancel()

	if err := inst.Upload(planCtx, archive); err != nil {
		res.InfraError = err
		return res
	}

	start := time.Now()
	for _, step := range p.Steps {
		sr, stop := r.runStep(ctx, planCtx, p, step, unit, inst, &res)
		res.Steps = append(res.Steps, sr)
		if stop {
			break
		}
		// dependencies are resolved; user code runs offline
		if step.Kind == plan.StepBuild && p.NeedsNetwork {
			if err := inst.Isolate(planCtx); err != nil {
				res.InfraError = err
				break
			}
		}
	}
	res.Elapsed = time.Since(start)

	if !res.TimedOut && res.InfraError == nil {
		probeCtx, probeCancel := context.WithTimeout(context.WithoutCancel(ctx), memoryProbeTimeout)
		if kb, ok := inst.PeakMemoryKB(probeCtx); ok {
			res.PeakMemoryKB = &kb
		}
		probeCancel()
	}

	return res
}

func (r *Runner) runStep(
	ctx, planCtx context.Context,
	p plan.BuildPlan,
	step plan.Step,
	unit execution.SourceUnit,
	inst Instance,
	res *RawResult,
) (StepResult, bool) {
	stepCtx, cancel := context.WithTimeout(planCtx, step.Timeout)
	defer cancel()

	req := ExecRequest{Args: step.Args}
	if step.Stdin {
		req.Stdin = []byte(unit.Stdin)
	}

	r.logger.Debug("running step",
		zap.String("instance", inst.ID()),
		zap.String("step", step.Name),
		zap.Strings("args", step.Args))

	started := time.Now()
	out, err := inst.Exec(stepCtx, req)
	sr := StepResult{
		Name:      step.Name,
		Kind:      step.Kind,
		Stdout:    out.Stdout,
		Stderr:    out.Stderr,
		Combined:  out.Combined,
		ExitCode:  out.ExitCode,
		Elapsed:   time.Since(started),
		Truncated: out.Truncated,
	}

	switch {
	case ctx.Err() != nil:
		res.InfraError = fmt.Errorf("%w: execution aborted: %v", ErrInfrastructure, ctx.Err())
		return sr, true
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		sr.TimedOut = true
		res.TimedOut = true
		res.TimeoutLimit = step.Timeout
		if planDeadline, ok := planCtx.Deadline(); ok && !planDeadline.After(started.Add(step.Timeout)) {
			res.TimeoutLimit = p.Total
		}
		return sr, true
	case err != nil:
		res.InfraError = err
		return sr, true
	}

	return sr, sr.ExitCode != 0
}
