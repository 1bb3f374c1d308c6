package types

// SuccessEnvelope wraps every 2xx body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public form of an engine error. Retryable tells callers
// whether sending the same request again can succeed.
type APIError struct {
	Code      string `json:"code"`
	Category  string `json:"category,omitempty"`
	Retryable bool   `json:"retryable"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
