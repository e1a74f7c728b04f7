package notes

import "time"

// Status is the lifecycle state of an uploaded note.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Note is an uploaded clinician note awaiting conversion into a claim.
type Note struct {
	ID                    string     `json:"id"`
	Filename              string     `json:"filename"`
	Content               string     `json:"content"`
	UploadedAt            time.Time  `json:"uploaded_at"`
	Status                Status     `json:"status"`
	ClaimID               string     `json:"claim_id,omitempty"`
	Error                 string     `json:"error,omitempty"`
	ProcessingStartedAt   *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
	RetryCount            int        `json:"retry_count"`
}

func (n Note) Key() string          { return n.ID }
func (n Note) Timestamp() time.Time { return n.UploadedAt }

// MarkProcessing starts an attempt. The start time of the first attempt is
// kept across retries.
func (n *Note) MarkProcessing(at time.Time) {
	n.Status = StatusProcessing
	if n.ProcessingStartedAt == nil {
		n.ProcessingStartedAt = &at
	}
}

// MarkRetry returns the note to pending after a transient failure.
func (n *Note) MarkRetry(reason string) {
	n.Status = StatusPending
	n.Error = reason
	n.RetryCount++
}

func (n *Note) MarkCompleted(claimID string, at time.Time) {
	n.Status = StatusCompleted
	n.ClaimID = claimID
	n.Error = ""
	n.ProcessingCompletedAt = &at
}

func (n *Note) MarkFailed(reason string, at time.Time) {
	n.Status = StatusFailed
	n.Error = reason
	n.ProcessingCompletedAt = &at
}
