package classifier

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/isdmx/runbox/execution"
	"github.com/isdmx/runbox/plan"
	"github.com/isdmx/runbox/sandbox"
)

// Fixed diagnostics.
const (
	InfraDiagnostic     = "Execution environment error, please try again later"
	truncatedNotice     = "\n... output truncated"
	workspacePathPrefix = "/workspace/"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// Classifier applies the decision table.
type Classifier struct {
	diagnosticLimit int
	outputLimit     int
}

// New creates a Classifier. Limits are in runes; zero disables a limit.
func New(diagnosticLimit, outputLimit int) *Classifier {
	return &Classifier{
		diagnosticLimit: diagnosticLimit,
		outputLimit:     outputLimit,
	}
}

// Classify maps a raw plan run onto an Outcome.
func (c *Classifier) Classify(raw sandbox.RawResult, p plan.BuildPlan) execution.Outcome {
	out := execution.Outcome{
		Elapsed: raw.Elapsed,
		Plan:    string(p.Kind),
	}

	if raw.InfraError != nil {
		out.Status = execution.StatusInfraFailed
		out.Diagnostic = InfraDiagnostic
		return out
	}

	if raw.TimedOut {
		out.Status = execution.StatusTimedOut
		out.Diagnostic = fmt.Sprintf("Execution timeout (max %dms)", raw.TimeoutLimit.Milliseconds())
		return out
	}

	markers := MarkersFor(p.Toolchain)
	scrub := c.scrubList(raw, p)
	failed := raw.FailedStep()
	last := raw.LastStep()

	buildOutput := buildStageOutput(raw, p)
	if (failed != nil && failed.Kind == plan.StepBuild) ||
		(markers.BuildFailed(buildOutput) && !markers.BuildSucceeded(buildOutput)) {
		out.Status = execution.StatusBuildFailed
		diag := buildOutput
		if failed != nil && failed.Kind == plan.StepBuild {
			diag = failed.Combined
		}
		out.Diagnostic = c.diagnostic(diag, scrub, "Build failed")
		return out
	}

	if p.RunsTests() && last != nil && markers.BuildSucceeded(last.Combined) {
		return c.success(out, raw, last, scrub)
	}

	runOutput := runStageOutput(raw)
	if failed != nil || markers.RuntimeFailed(runOutput) {
		out.Status = execution.StatusRuntimeFailed
		diag := runOutput
		empty := "Execution failed"
		if failed != nil {
			diag = failed.Combined
			empty = fmt.Sprintf("Process exited with code %d", failed.ExitCode)
		}
		out.Diagnostic = c.diagnostic(diag, scrub, empty)
		return out
	}

	return c.success(out, raw, last, scrub)
}

func (c *Classifier) success(out execution.Outcome, raw sandbox.RawResult, last *sandbox.StepResult, scrub []string) execution.Outcome {
	out.Status = execution.StatusSuccess
	out.MemoryKB = raw.PeakMemoryKB
	if last == nil {
		return out
	}
	stdout := strings.TrimSpace(sanitize(last.Combined, scrub))
	if last.Truncated || (c.outputLimit > 0 && utf8.RuneCountInString(stdout) > c.outputLimit) {
		stdout = truncateRunes(stdout, c.outputLimit) + truncatedNotice
	}
	out.Stdout = stdout
	return out
}

// buildStageOutput is the output of the steps that compile or parse code.
// Scripted plans have no separate build step; the interpreter reports syntax
// errors from the run step.
func buildStageOutput(raw sandbox.RawResult, p plan.BuildPlan) string {
	var b strings.Builder
	for _, s := range raw.Steps {
		if s.Kind == plan.StepBuild || s.Kind == plan.StepTest || p.Kind == plan.KindScriptedRun {
			b.WriteString(s.Combined)
		}
	}
	return b.String()
}

func runStageOutput(raw sandbox.RawResult) string {
	var b strings.Builder
	for _, s := range raw.Steps {
		if s.Kind == plan.StepRun || s.Kind == plan.StepTest {
			b.WriteString(s.Combined)
		}
	}
	return b.String()
}

// scrubList collects every string that would reveal how the context was
// invoked, longest first so overlapping tokens are removed whole.
func (*Classifier) scrubList(raw sandbox.RawResult, p plan.BuildPlan) []string {
	var tokens []string
	for _, s := range p.Steps {
		tokens = append(tokens, strings.Join(s.Args, " "))
	}
	for _, t := range raw.Scrub {
		if t != "" {
			tokens = append(tokens, t+"/", t)
		}
	}
	tokens = append(tokens, workspacePathPrefix)
	sort.SliceStable(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })
	return tokens
}

func sanitize(s string, scrub []string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	for _, t := range scrub {
		if t != "" {
			s = strings.ReplaceAll(s, t, "")
		}
	}
	return s
}

func (c *Classifier) diagnostic(s string, scrub []string, empty string) string {
	s = strings.TrimSpace(sanitize(s, scrub))
	if s == "" {
		return empty
	}
	return truncateRunes(s, c.diagnosticLimit)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
