package model

import "time"

// RefreshStatus is the lifecycle state of a supervised refresh run.
type RefreshStatus string

const (
	RefreshIdle     RefreshStatus = "idle"
	RefreshStarting RefreshStatus = "starting"
	RefreshRunning  RefreshStatus = "running"
	RefreshSuccess  RefreshStatus = "success"
	RefreshFailed   RefreshStatus = "failed"
)

// RefreshMode selects which pipeline steps a refresh run executes.
type RefreshMode string

const (
	ModeDaily      RefreshMode = "daily"
	ModeWeekly     RefreshMode = "weekly"
	ModeImportOnly RefreshMode = "import_only"
)

// Valid reports whether m is a known refresh mode.
func (m RefreshMode) Valid() bool {
	switch m {
	case ModeDaily, ModeWeekly, ModeImportOnly:
		return true
	default:
		return false
	}
}

// RefreshRun is the persisted snapshot of the current or last refresh run.
type RefreshRun struct {
	RunID       string        `json:"run_id,omitempty"`
	Status      RefreshStatus `json:"status"`
	Mode        RefreshMode   `json:"mode,omitempty"`
	TriggeredBy string        `json:"triggered_by,omitempty"`
	StartedAt   *time.Time    `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at"`
	ExitCode    *int          `json:"exit_code"`
	Command     []string      `json:"command,omitempty"`
	LogPath     string        `json:"log_path,omitempty"`
	PID         int           `json:"pid,omitempty"`
}

// Terminal reports whether the run has finished.
func (r RefreshRun) Terminal() bool {
	return r.Status == RefreshSuccess || r.Status == RefreshFailed
}
