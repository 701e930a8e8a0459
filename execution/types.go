package execution

import (
	"fmt"
	"strings"
	"time"
)

// ProjectType selects between a single source file and a project driven by a
// build descriptor (for example a Maven pom.xml).
type ProjectType string

const (
	ProjectStandalone  ProjectType = "standalone"
	ProjectDeclarative ProjectType = "declarative"
)

// ParseProjectType maps transport values onto a ProjectType. An empty value is
// standalone; "maven" is accepted for the declarative type.
func ParseProjectType(value string) (ProjectType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(ProjectStandalone):
		return ProjectStandalone, nil
	case string(ProjectDeclarative), "maven":
		return ProjectDeclarative, nil
	default:
		return "", fmt.Errorf("unsupported project type: %s", value)
	}
}

// SourceUnit is one submission: code, stdin and an optional build descriptor.
// BuildDescriptor is set if and only if ProjectType is ProjectDeclarative.
type SourceUnit struct {
	Code            string
	Stdin           string
	Language        string
	ProjectType     ProjectType
	BuildDescriptor string
}

// HasBuildDescriptor reports whether a build descriptor was supplied.
func (u SourceUnit) HasBuildDescriptor() bool {
	return strings.TrimSpace(u.BuildDescriptor) != ""
}

// Status is the classification of one execution.
type Status string

const (
	StatusSuccess          Status = "Success"
	StatusBuildFailed      Status = "BuildFailed"
	StatusRuntimeFailed    Status = "RuntimeFailed"
	StatusTimedOut         Status = "TimedOut"
	StatusInfraFailed      Status = "InfraFailed"
	StatusValidationFailed Status = "ValidationFailed"
	StatusPolicyViolation  Status = "PolicyViolation"
)

// Rejected reports whether the status was decided before any sandbox existed.
func (s Status) Rejected() bool {
	return s == StatusValidationFailed || s == StatusPolicyViolation
}

// Outcome is the immutable result of one execution.
type Outcome struct {
	Status     Status
	Stdout     string
	Diagnostic string
	Elapsed    time.Duration
	// MemoryKB is nil when peak memory could not be measured.
	MemoryKB *int64
	// Capability names the denylisted capability for StatusPolicyViolation.
	Capability string
	// Plan is the name of the build plan that ran, empty for rejected units.
	Plan string
}

// ValidationError is returned for malformed or oversized requests.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "Invalid request: " + e.Reason
	}
	return fmt.Sprintf("Invalid request: %s %s", e.Field, e.Reason)
}

// Rejected builds the outcome for a unit refused before execution.
func Rejected(status Status, diagnostic string) Outcome {
	return Outcome{Status: status, Diagnostic: diagnostic}
}
