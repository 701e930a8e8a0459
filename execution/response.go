package execution

// Response is the flattened projection of an Outcome returned to clients.
type Response struct {
	Success          bool   `json:"success"`
	Output           string `json:"output,omitempty"`
	Error            string `json:"error,omitempty"`
	CompilationError string `json:"compilationError,omitempty"`
	ExecutionTimeMs  int64  `json:"executionTimeMs"`
	MemoryUsageKB    *int64 `json:"memoryUsageKB,omitempty"`
}

// Response projects the outcome onto the client wire shape.
func (o Outcome) Response() Response {
	resp := Response{
		ExecutionTimeMs: o.Elapsed.Milliseconds(),
	}

	switch o.Status {
	case StatusSuccess:
		resp.Success = true
		resp.Output = o.Stdout
		resp.MemoryUsageKB = o.MemoryKB
	case StatusBuildFailed:
		resp.CompilationError = o.Diagnostic
	default:
		resp.Error = o.Diagnostic
		if resp.Error == "" {
			resp.Error = "Execution failed"
		}
	}

	return resp
}
