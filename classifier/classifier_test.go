package classifier

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/runbox/execution"
	"github.com/isdmx/runbox/plan"
	"github.com/isdmx/runbox/sandbox"
)

var (
	javacPlan = plan.BuildPlan{
		Kind:      plan.KindStandaloneCompileRun,
		Toolchain: "javac",
		Steps: []plan.Step{
			{Name: "compile", Kind: plan.StepBuild, Args: []string{"javac", "Main.java"}},
			{Name: "run", Kind: plan.StepRun, Args: []string{"java", "-Xss16m", "Main"}},
		},
	}
	mavenTestPlan = plan.BuildPlan{
		Kind:      plan.KindDeclarativeBuildAndTest,
		Toolchain: "maven",
		Steps: []plan.Step{
			{Name: "build-and-test", Kind: plan.StepTest, Args: []string{"mvn", "-B", "clean", "test"}},
		},
	}
	mavenRunPlan = plan.BuildPlan{
		Kind:      plan.KindDeclarativeBuildAndRun,
		Toolchain: "maven",
		Steps: []plan.Step{
			{Name: "build", Kind: plan.StepBuild, Args: []string{"mvn", "-B", "-q", "compile"}},
			{Name: "run", Kind: plan.StepRun, Args: []string{"mvn", "-B", "-q", "exec:java"}},
		},
	}
	pythonPlan = plan.BuildPlan{
		Kind:      plan.KindScriptedRun,
		Toolchain: "python",
		Steps: []plan.Step{
			{Name: "run", Kind: plan.StepRun, Args: []string{"python3", "-u", "main.py"}},
		},
	}
	nodePlan = plan.BuildPlan{
		Kind:      plan.KindScriptedRun,
		Toolchain: "node",
		Steps: []plan.Step{
			{Name: "run", Kind: plan.StepRun, Args: []string{"node", "main.js"}},
		},
	}
)

func step(kind plan.StepKind, exit int, output string) sandbox.StepResult {
	return sandbox.StepResult{Kind: kind, ExitCode: exit, Combined: output, Stdout: output}
}

func TestClassify(t *testing.T) {
	peak := int64(4096)

	tests := []struct {
		name       string
		plan       plan.BuildPlan
		raw        sandbox.RawResult
		status     execution.Status
		stdout     string
		diagnostic string
	}{
		{
			name: "InfraErrorWins",
			plan: javacPlan,
			raw: sandbox.RawResult{
				InfraError: sandbox.ErrInfrastructure,
				TimedOut:   true,
				Steps:      []sandbox.StepResult{step(plan.StepBuild, 1, "Main.java:1: error: x")},
			},
			status:     execution.StatusInfraFailed,
			diagnostic: InfraDiagnostic,
		},
		{
			name:       "Timeout",
			plan:       javacPlan,
			raw:        sandbox.RawResult{TimedOut: true, TimeoutLimit: 5 * time.Second},
			status:     execution.StatusTimedOut,
			diagnostic: "Execution timeout (max 5000ms)",
		},
		{
			name: "CompileError",
			plan: javacPlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepBuild, 1, "Main.java:3: error: ';' expected\n        int x = 1\n                 ^\n1 error\n"),
			}},
			status:     execution.StatusBuildFailed,
			diagnostic: "Main.java:3: error: ';' expected\n        int x = 1\n                 ^\n1 error",
		},
		{
			name: "FailedBuildStepWithoutMarkers",
			plan: javacPlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepBuild, 2, "javac: out of memory"),
			}},
			status:     execution.StatusBuildFailed,
			diagnostic: "javac: out of memory",
		},
		{
			name: "UncaughtException",
			plan: javacPlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepBuild, 0, ""),
				step(plan.StepRun, 1, "Exception in thread \"main\" java.lang.ArithmeticException: / by zero\n\tat Main.main(Main.java:3)\n"),
			}},
			status:     execution.StatusRuntimeFailed,
			diagnostic: "Exception in thread \"main\" java.lang.ArithmeticException: / by zero\n\tat Main.main(Main.java:3)",
		},
		{
			name: "NonZeroExitWithoutOutput",
			plan: javacPlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepBuild, 0, ""),
				step(plan.StepRun, 3, ""),
			}},
			status:     execution.StatusRuntimeFailed,
			diagnostic: "Process exited with code 3",
		},
		{
			name: "RunOutputMentioningErrorIsNotBuildFailure",
			plan: javacPlan,
			raw: sandbox.RawResult{
				Steps: []sandbox.StepResult{
					step(plan.StepBuild, 0, ""),
					step(plan.StepRun, 0, "Main.java:1: error: is just text\n"),
				},
				PeakMemoryKB: &peak,
			},
			status: execution.StatusSuccess,
			stdout: "Main.java:1: error: is just text",
		},
		{
			name: "Success",
			plan: javacPlan,
			raw: sandbox.RawResult{
				Steps: []sandbox.StepResult{
					step(plan.StepBuild, 0, ""),
					step(plan.StepRun, 0, "HELLO\n"),
				},
				PeakMemoryKB: &peak,
			},
			status: execution.StatusSuccess,
			stdout: "HELLO",
		},
		{
			name: "MavenTestsPass",
			plan: mavenTestPlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepTest, 0, "[INFO] Tests run: 2, Failures: 0, Errors: 0, Skipped: 0\n"+
					"java.lang.IllegalStateException: expected by test\n"+
					"[INFO] BUILD SUCCESS\n"),
			}},
			status: execution.StatusSuccess,
			stdout: "[INFO] Tests run: 2, Failures: 0, Errors: 0, Skipped: 0\njava.lang.IllegalStateException: expected by test\n[INFO] BUILD SUCCESS",
		},
		{
			name: "MavenTestFailures",
			plan: mavenTestPlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepTest, 1, "[ERROR] Tests run: 1, Failures: 1, Errors: 0, Skipped: 0\n"+
					"[ERROR] There are test failures.\n[INFO] BUILD FAILURE\n"),
			}},
			status:     execution.StatusRuntimeFailed,
			diagnostic: "[ERROR] Tests run: 1, Failures: 1, Errors: 0, Skipped: 0\n[ERROR] There are test failures.\n[INFO] BUILD FAILURE",
		},
		{
			name: "MavenTestCompilationError",
			plan: mavenTestPlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepTest, 1, "[ERROR] COMPILATION ERROR :\n"+
					"[ERROR] /workspace/src/test/java/com/example/MainTest.java:[5,9] cannot find symbol\n"+
					"[INFO] BUILD FAILURE\n"),
			}},
			status: execution.StatusBuildFailed,
			diagnostic: "[ERROR] COMPILATION ERROR :\n" +
				"[ERROR] src/test/java/com/example/MainTest.java:[5,9] cannot find symbol\n[INFO] BUILD FAILURE",
		},
		{
			name: "MavenExecFailure",
			plan: mavenRunPlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepBuild, 0, ""),
				step(plan.StepRun, 1, "[ERROR] Failed to execute goal org.codehaus.mojo:exec-maven-plugin:3.1.0:java\n"),
			}},
			status:     execution.StatusRuntimeFailed,
			diagnostic: "[ERROR] Failed to execute goal org.codehaus.mojo:exec-maven-plugin:3.1.0:java",
		},
		{
			name: "PythonSyntaxError",
			plan: pythonPlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepRun, 1, "  File \"/workspace/main.py\", line 1\n    print(\n         ^\nSyntaxError: '(' was never closed\n"),
			}},
			status:     execution.StatusBuildFailed,
			diagnostic: "File \"main.py\", line 1\n    print(\n         ^\nSyntaxError: '(' was never closed",
		},
		{
			name: "PythonTraceback",
			plan: pythonPlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepRun, 1, "Traceback (most recent call last):\n  File \"/workspace/main.py\", line 1, in <module>\nZeroDivisionError: division by zero\n"),
			}},
			status:     execution.StatusRuntimeFailed,
			diagnostic: "Traceback (most recent call last):\n  File \"main.py\", line 1, in <module>\nZeroDivisionError: division by zero",
		},
		{
			name: "PythonSyntaxErrorFromEval",
			plan: pythonPlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepRun, 1, "Traceback (most recent call last):\n  File \"/workspace/main.py\", line 1, in <module>\n"+
					"  File \"<string>\", line 1\n    1 +\n       ^\nSyntaxError: invalid syntax\n"),
			}},
			status: execution.StatusRuntimeFailed,
			diagnostic: "Traceback (most recent call last):\n  File \"main.py\", line 1, in <module>\n" +
				"  File \"<string>\", line 1\n    1 +\n       ^\nSyntaxError: invalid syntax",
		},
		{
			name: "NodeSyntaxError",
			plan: nodePlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepRun, 1, "/workspace/main.js:1\nconsole.log(\n            ^\n\nSyntaxError: missing ) after argument list\n"+
					"    at internalCompileFunction (node:internal/vm:73:18)\n"+
					"    at Module._compile (node:internal/modules/cjs/loader:1198:27)\n"),
			}},
			status: execution.StatusBuildFailed,
			diagnostic: "main.js:1\nconsole.log(\n            ^\n\nSyntaxError: missing ) after argument list\n" +
				"    at internalCompileFunction (node:internal/vm:73:18)\n" +
				"    at Module._compile (node:internal/modules/cjs/loader:1198:27)",
		},
		{
			name: "NodeSyntaxErrorFromJSONParse",
			plan: nodePlan,
			raw: sandbox.RawResult{Steps: []sandbox.StepResult{
				step(plan.StepRun, 1, "undefined:1\nobject\n^\n\nSyntaxError: Unexpected token o in JSON at position 0\n"+
					"    at JSON.parse (<anonymous>)\n"+
					"    at Object.<anonymous> (/workspace/main.js:1:6)\n"),
			}},
			status: execution.StatusRuntimeFailed,
			diagnostic: "undefined:1\nobject\n^\n\nSyntaxError: Unexpected token o in JSON at position 0\n" +
				"    at JSON.parse (<anonymous>)\n" +
				"    at Object.<anonymous> (main.js:1:6)",
		},
	}

	c := New(2000, 1<<20)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := c.Classify(tt.raw, tt.plan)

			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, tt.stdout, out.Stdout)
			assert.Equal(t, tt.diagnostic, out.Diagnostic)
			assert.Equal(t, string(tt.plan.Kind), out.Plan)
			if tt.status == execution.StatusSuccess {
				assert.Equal(t, tt.raw.PeakMemoryKB, out.MemoryKB)
			} else {
				assert.Nil(t, out.MemoryKB)
			}
		})
	}
}

func TestClassifyScrubsInvocationAndContextNames(t *testing.T) {
	raw := sandbox.RawResult{
		Scrub: []string{"runbox-3f2a"},
		Steps: []sandbox.StepResult{
			step(plan.StepBuild, 1, "Command failed: javac Main.java in runbox-3f2a\nMain.java:1: error: class expected\n"),
		},
	}

	out := New(2000, 0).Classify(raw, javacPlan)

	require.Equal(t, execution.StatusBuildFailed, out.Status)
	assert.NotContains(t, out.Diagnostic, "javac Main.java")
	assert.NotContains(t, out.Diagnostic, "runbox-3f2a")
	assert.Contains(t, out.Diagnostic, "Main.java:1: error: class expected")
}

func TestClassifyBoundsDiagnostic(t *testing.T) {
	long := "Main.java:1: error: " + strings.Repeat("é", 5000)
	raw := sandbox.RawResult{Steps: []sandbox.StepResult{step(plan.StepBuild, 1, long)}}

	out := New(2000, 0).Classify(raw, javacPlan)

	assert.Equal(t, 2000, len([]rune(out.Diagnostic)))
}

func TestClassifyMarksTruncatedOutput(t *testing.T) {
	raw := sandbox.RawResult{Steps: []sandbox.StepResult{
		step(plan.StepBuild, 0, ""),
		{Kind: plan.StepRun, Combined: "0123456789", Truncated: true},
	}}

	out := New(2000, 5).Classify(raw, javacPlan)

	assert.Equal(t, execution.StatusSuccess, out.Status)
	assert.Equal(t, "01234"+truncatedNotice, out.Stdout)
}

func TestClassifyStripsANSI(t *testing.T) {
	raw := sandbox.RawResult{Steps: []sandbox.StepResult{
		step(plan.StepTest, 1, "\x1b[1;31m[ERROR] COMPILATION ERROR\x1b[m\n"),
	}}

	out := New(2000, 0).Classify(raw, mavenTestPlan)

	assert.Equal(t, "[ERROR] COMPILATION ERROR", out.Diagnostic)
}

func TestClassifyInfraErrorDetailIsNotExposed(t *testing.T) {
	raw := sandbox.RawResult{InfraError: errors.New("docker: /var/run/docker.sock: permission denied")}

	out := New(2000, 0).Classify(raw, javacPlan)

	assert.Equal(t, execution.StatusInfraFailed, out.Status)
	assert.NotContains(t, out.Diagnostic, "docker.sock")
}

func TestMarkersFor(t *testing.T) {
	assert.True(t, MarkersFor("maven").BuildSucceeded("[INFO] BUILD SUCCESS"))
	assert.True(t, MarkersFor("gcc").BuildFailed("main.cpp:3:5: error: expected ';'"))
	assert.True(t, MarkersFor("node").BuildFailed("SyntaxError: Unexpected token ')'"))
	assert.True(t, MarkersFor("node").RuntimeFailed("ReferenceError: x is not defined"))
	assert.True(t, MarkersFor("unknown").BuildFailed("foo.c:1: error: bad"))
	assert.False(t, MarkersFor("javac").RuntimeFailed("No Exception occurred"))
}
