package core

// Status classifies the outcome of one executor run. A run always completes
// with a Reply; callers distinguish degraded fallbacks from clean answers by
// inspecting the status, never by catching panics or raw errors.
type Status string

const (
	// StatusOK means the model produced a final answer normally.
	StatusOK Status = "ok"
	// StatusDegraded means a fallback path produced the reply (iteration cap,
	// deadline expiry with partial work, or downstream failures the model
	// answered around).
	StatusDegraded Status = "degraded"
	// StatusFailed means no usable answer could be produced at all.
	StatusFailed Status = "failed"
)

// Reply is the completed response object returned by Session.Run.
type Reply struct {
	Text   string `json:"text"`
	Status Status `json:"status"`
}
