package counter

import "time"

// IncrementEvent is the message imgbatch publishes after a batch run and
// counterd applies to the global tally. Source names the reporting client.
type IncrementEvent struct {
	EventID        string    `json:"event_id"`
	Source         string    `json:"source"`
	FilesProcessed int64     `json:"files_processed"`
	TotalSizeBytes int64     `json:"total_size_bytes"`
	OccurredAt     time.Time `json:"occurred_at"`
}
