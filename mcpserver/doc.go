// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The server registers a single execute_code tool backed by the execution
// engine. Its text result is the JSON response body also served by the REST
// API; infrastructure failures set the tool result's error flag so clients
// can retry.
//
// The server supports both stdio and streamable HTTP transports as configured
// by server.transport.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, eng)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
