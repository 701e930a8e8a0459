// Package httpapi serves the execution engine over a JSON REST API.
//
// Routes:
//
//	POST /api/execute    run one submission, returns execution.Response
//	GET  /api/languages  configured languages
//	GET  /health         liveness probe
//	GET  /metrics        prometheus exposition
package httpapi
