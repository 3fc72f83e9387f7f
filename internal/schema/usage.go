package schema

import "time"

// RequestStatus is the terminal outcome recorded for a request.
type RequestStatus string

const (
	StatusSuccess       RequestStatus = "success"
	StatusUpstreamError RequestStatus = "upstream_error"
	StatusTimeout       RequestStatus = "timeout"
	StatusCanceled      RequestStatus = "canceled"
)

// UsageRecord is the token-accounting summary for one completed (or
// failed) request. Exactly one is produced per request, at finalization.
type UsageRecord struct {
	RequestID    string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Status       RequestStatus
	Timestamp    time.Time
}

// NewUsageRecord fills in the derived total and timestamp.
func NewUsageRecord(requestID, provider, model string, usage Usage, status RequestStatus) UsageRecord {
	return UsageRecord{
		RequestID:    requestID,
		Provider:     provider,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.InputTokens + usage.OutputTokens,
		Status:       status,
		Timestamp:    time.Now(),
	}
}
