package plan

import (
	"regexp"
	"slices"
	"time"
)

// Kind names a build/run strategy.
type Kind string

const (
	KindStandaloneCompileRun    Kind = "standalone-compile-run"
	KindDeclarativeBuildAndTest Kind = "declarative-build-and-test"
	KindDeclarativeBuildAndRun  Kind = "declarative-build-and-run"
	KindScriptedRun             Kind = "scripted-run"
)

// StepKind distinguishes build output from program output.
type StepKind string

const (
	StepBuild StepKind = "build"
	StepTest  StepKind = "test"
	StepRun   StepKind = "run"
)

// Step is one process executed inside the isolated context.
type Step struct {
	Name    string
	Kind    StepKind
	Args    []string
	Timeout time.Duration
	// Stdin pipes the submission's input into the process.
	Stdin bool
}

// Layout places submission content inside the workspace. Paths are relative
// to the workspace root.
type Layout struct {
	Source     string
	Descriptor string
}

// Cache is an additional writable scratch mount, e.g. a dependency cache.
type Cache struct {
	Path   string
	SizeMB int
}

// BuildPlan is the strategy selected for one request.
type BuildPlan struct {
	Kind      Kind
	Language  string
	Toolchain string
	Image     string
	Steps     []Step
	// Total bounds the wall-clock time of all steps together.
	Total  time.Duration
	Layout Layout
	// ExecutableStorage allows executing files written to the workspace.
	ExecutableStorage bool
	NeedsNetwork      bool
	Cache             *Cache
	Env               []string
}

// Clone returns a deep copy so callers cannot mutate a shared plan.
func (p BuildPlan) Clone() BuildPlan {
	out := p
	out.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		s.Args = slices.Clone(s.Args)
		out.Steps[i] = s
	}
	out.Env = slices.Clone(p.Env)
	if p.Cache != nil {
		c := *p.Cache
		out.Cache = &c
	}
	return out
}

// RunsTests reports whether the plan's only step is a build-and-test step.
func (p BuildPlan) RunsTests() bool {
	return p.Kind == KindDeclarativeBuildAndTest
}

var testAnnotation = regexp.MustCompile(`@(Test|Before\w*|After\w*|ParameterizedTest|RepeatedTest)\b`)

// DetectAnnotatedTests reports whether code is itself a test suite.
func DetectAnnotatedTests(code string) bool {
	return testAnnotation.MatchString(code)
}
