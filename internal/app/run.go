package app

import "time"

// Run describes one invocation of the panel. Its ID tags every log line
// written during the invocation.
type Run struct {
	ID      string
	Command string
	Started time.Time
	Status  string // "success" or "error"
}

// NewRun creates a Run for command started at now.
func NewRun(command string, now time.Time) *Run {
	return &Run{
		ID:      now.UTC().Format("20060102T150405Z"),
		Command: command,
		Started: now,
		Status:  "success",
	}
}

// Fail marks the run as failed.
func (r *Run) Fail() { r.Status = "error" }
