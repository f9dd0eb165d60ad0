// Package server exposes the dispatcher over HTTP.
//
// Routes:
//
//	GET  /healthz
//	POST /v1/generate
//	GET  /v1/workers
//	POST /v1/workers/reset
//	GET  /v1/providers
//
// When a token is configured, /v1 routes require "Authorization: Bearer
// <token>". Responses are JSON; errors use {"error": "..."}.
package server
