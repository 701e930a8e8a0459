package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/execution"
	"github.com/isdmx/runbox/plan"
)

// Version is reported to MCP clients during initialization.
var Version = "dev"

// Executor runs source units. It is satisfied by *engine.Engine.
type Executor interface {
	Execute(ctx context.Context, unit execution.SourceUnit) execution.Outcome
	Languages() []plan.LanguageInfo
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	executor   Executor
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor Executor) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
	}

	s.mcpServer = server.NewMCPServer("runbox", Version,
		server.WithToolCapabilities(false),
		server.WithRecovery())

	s.registerExecuteCodeTool()
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)

	return s, nil
}

func (s *MCPServer) languageNames() []string {
	langs := s.executor.Languages()
	names := make([]string, 0, len(langs))
	for _, l := range langs {
		names = append(names, l.Name)
	}
	return names
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.NewTool("execute_code",
		mcp.WithDescription("Compile and run untrusted source code in an isolated sandbox. "+
			"Declarative projects take a build descriptor (pom.xml) and run the test suite "+
			"when the code contains annotated tests."),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Source code of the program or test class")),
		mcp.WithString("language",
			mcp.Required(),
			mcp.Description("Source language"),
			mcp.Enum(s.languageNames()...)),
		mcp.WithString("project_type",
			mcp.Description("standalone (default) or declarative"),
			mcp.Enum(string(execution.ProjectStandalone), string(execution.ProjectDeclarative))),
		mcp.WithString("build_descriptor",
			mcp.Description("Build descriptor contents, required for declarative projects")),
		mcp.WithString("input",
			mcp.Description("Data piped to the program's standard input")),
	)

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError("Invalid request: code is required and must be a string"), nil
	}

	unit := execution.SourceUnit{
		Code:            code,
		Stdin:           request.GetString("input", ""),
		Language:        request.GetString("language", ""),
		ProjectType:     execution.ProjectType(request.GetString("project_type", "")),
		BuildDescriptor: request.GetString("build_descriptor", ""),
	}

	s.logger.Debug("code execution requested",
		zap.String("language", unit.Language),
		zap.String("project_type", string(unit.ProjectType)),
		zap.Int("code_len", len(unit.Code)))

	out := s.executor.Execute(ctx, unit)

	body, err := json.Marshal(out.Response())
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(body))},
		IsError: out.Status == execution.StatusInfraFailed,
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP. It blocks until Shutdown is called.
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport started by ServeHTTP.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
