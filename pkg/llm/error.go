// Package llm provides the wire representations of relay requests and
// responses, and of the OpenAI-compatible inference API they are forwarded to.
package llm

// ErrorResponse is the body returned to the client on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CompletionError is the error body returned by the inference API.
type CompletionError struct {
	Error *APIError `json:"error"`
}

// APIError is the detail object of a CompletionError.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
}
