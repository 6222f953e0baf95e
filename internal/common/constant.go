package common

// TraceIDHeaderName is echoed on every HTTP response so that a caller can
// correlate a failure with the server log line carrying the same trace_id.
const TraceIDHeaderName = "X-Trace-Id"

// AuthorizationHeaderName carries Basic or Bearer credentials.
const AuthorizationHeaderName = "Authorization"
