package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/isdmx/runbox/execution"
)

const missingCode = "Invalid request: code is required and must be a string"

// ExecuteRequest is the body of POST /api/execute. Pom is accepted as an
// alias of BuildDescriptor.
type ExecuteRequest struct {
	Code            any    `json:"code"`
	Input           string `json:"input"`
	Language        string `json:"language"`
	ProjectType     string `json:"projectType"`
	BuildDescriptor string `json:"buildDescriptor"`
	Pom             string `json:"pom"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, execution.Response{Error: "Invalid request: malformed JSON body"})
		return
	}

	code, ok := req.Code.(string)
	if !ok || code == "" {
		c.JSON(http.StatusBadRequest, execution.Response{Error: missingCode})
		return
	}

	language := req.Language
	if language == "" {
		language = defaultLanguage
	}
	descriptor := req.BuildDescriptor
	if descriptor == "" {
		descriptor = req.Pom
	}

	out := s.executor.Execute(c.Request.Context(), execution.SourceUnit{
		Code:            code,
		Stdin:           req.Input,
		Language:        language,
		ProjectType:     execution.ProjectType(req.ProjectType),
		BuildDescriptor: descriptor,
	})

	status := http.StatusOK
	if out.Status == execution.StatusValidationFailed {
		status = http.StatusBadRequest
	}
	c.JSON(status, out.Response())
}

func (s *Server) languages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": s.executor.Languages()})
}

func (*Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}
