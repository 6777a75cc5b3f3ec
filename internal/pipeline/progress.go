package pipeline

import "context"

// Progress is a point-in-time snapshot of a processing run, published
// when a step starts and again when it finishes so clients can poll
// without hitting the database.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func newProgress(current, total int, status, message string) Progress {
	percent := 0
	if total > 0 {
		percent = current * 100 / total
	}
	return Progress{Current: current, Total: total, Percent: percent, Status: status, Message: message}
}

// ProgressSink receives progress snapshots keyed by task id. Publishing
// is fire-and-forget; a sink must never fail the run.
type ProgressSink interface {
	Publish(ctx context.Context, taskID string, p Progress)
}

type nopProgress struct{}

func (nopProgress) Publish(ctx context.Context, taskID string, p Progress) {}

// NopProgress discards all snapshots.
func NopProgress() ProgressSink { return nopProgress{} }
