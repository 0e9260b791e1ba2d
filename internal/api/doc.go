// Package api serves the JSON and SSE surface of the service.
//
// Every non-streaming response is an envelope: {"data": ...} on
// success, {"error": {"code", "message", "status"}} on failure, always
// with Content-Type application/json. The chat stream is the one
// exception; once it commits to text/event-stream, failures travel as
// error frames inside the stream.
//
// Requests pass through a fixed middleware stack (outermost first):
// recovery, request ID, logging, CORS, rate limiting, bearer auth.
// Health probes and the metrics endpoint sit outside the stack so
// orchestrators and scrapers are never rate limited or asked for a
// token.
package api
