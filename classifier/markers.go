package classifier

import "regexp"

// Markers are the output patterns recognized for one toolchain.
type Markers struct {
	Build        []*regexp.Regexp
	BuildSuccess []*regexp.Regexp
	Runtime      []*regexp.Regexp
	// UserCode matches output showing a build marker was raised by code
	// that had already started running, e.g. eval or JSON.parse.
	UserCode []*regexp.Regexp
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// BuildFailed reports whether output carries a build failure marker.
func (m Markers) BuildFailed(output string) bool {
	return anyMatch(m.Build, output) && !anyMatch(m.UserCode, output)
}

// BuildSucceeded reports whether output carries a successful build summary.
func (m Markers) BuildSucceeded(output string) bool { return anyMatch(m.BuildSuccess, output) }

// RuntimeFailed reports whether output carries a runtime failure marker.
func (m Markers) RuntimeFailed(output string) bool { return anyMatch(m.Runtime, output) }

var javaRuntime = []string{
	`(?m)^Exception in thread "`,
	`(?m)^Caused by: `,
}

var markerTable = map[string]Markers{
	"javac": {
		Build:   patterns(`(?m)\.java:\d+: error:`),
		Runtime: patterns(javaRuntime...),
	},
	"maven": {
		Build: patterns(
			`COMPILATION ERROR`,
			`(?m)^\[ERROR\] .*\.java:\[\d+,\d+\]`,
			`Failed to execute goal .*maven-compiler-plugin`,
			`Could not resolve dependencies`,
			`Non-resolvable (parent POM|import POM)`,
			`Non-parseable POM`,
			`(?m)^\[ERROR\] .*Malformed POM`,
		),
		BuildSuccess: patterns(`BUILD SUCCESS`),
		Runtime: append(patterns(
			`There are test failures`,
			`Tests run: \d+, Failures: [1-9]`,
			`Tests run: \d+, Failures: \d+, Errors: [1-9]`,
			`Failed to execute goal .*exec-maven-plugin`,
		), patterns(javaRuntime...)...),
	},
	"gcc": {
		Build: patterns(
			`(?m):\d+:\d+: (fatal )?error:`,
			`undefined reference to`,
			`ld returned \d+ exit status`,
		),
		Runtime: patterns(
			`Segmentation fault`,
			`terminate called after throwing`,
			`AddressSanitizer`,
		),
	},
	"python": {
		Build:    patterns(`(?m)^\s*(SyntaxError|IndentationError|TabError): `),
		Runtime:  patterns(`Traceback \(most recent call last\)`),
		UserCode: patterns(`Traceback \(most recent call last\)`),
	},
	"node": {
		Build:   patterns(`(?m)^SyntaxError: `),
		Runtime: patterns(`(?m)^(Uncaught )?[A-Z]\w*Error: `, `node:internal/`),
		// parse errors only show loader frames
		UserCode: patterns(
			`(?m)^\s+at JSON\.parse \(`,
			`(?m)^\s+at Object\.<anonymous> \(`,
			`(?m)^\s+at eval \(`,
			`(?m)^\s+at new Function \(`,
		),
	},
}

// fallback is used for toolchains without an entry.
var fallback = Markers{
	Build:   patterns(`(?m)\berror:`),
	Runtime: patterns(`(?m)^Exception`),
}

// MarkersFor returns the markers for a toolchain.
func MarkersFor(toolchain string) Markers {
	if m, ok := markerTable[toolchain]; ok {
		return m
	}
	return fallback
}
