package domain

import (
	"math"
	"time"
)

// JobStatus represents the lifecycle status of a job
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusStarting    JobStatus = "starting"
	StatusDownloading JobStatus = "downloading"
	StatusExtracting  JobStatus = "extracting" // transfer done, merging/finalizing
	StatusFinished    JobStatus = "finished"
	StatusError       JobStatus = "error"
)

// IsActive reports whether a worker may still be running for the job.
// A submission for a key in an active status is a duplicate.
func (s JobStatus) IsActive() bool {
	switch s {
	case StatusQueued, StatusStarting, StatusDownloading, StatusExtracting:
		return true
	}
	return false
}

// IsTerminal checks if the status is final
func (s JobStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusError
}

// Job is the tracked state of one download request.
// Optional attributes are pointers so they serialize as null until known.
type Job struct {
	Key             string     `json:"videoId"`
	Status          JobStatus  `json:"status"`
	Percent         *float64   `json:"percent"`
	DownloadedBytes int64      `json:"downloaded_bytes"`
	TotalBytes      *int64     `json:"total_bytes"`
	Speed           *float64   `json:"speed"`
	ETA             *int64     `json:"eta"`
	Filename        *string    `json:"filename"`
	Title           *string    `json:"title"`
	Error           *string    `json:"error"`
	QueuedAt        *time.Time `json:"queued_at"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
}

// JobPatch is a partial update of a Job. A nil field leaves the current value
// untouched; the Clear* flags reset an optional field back to null.
type JobPatch struct {
	Status          *JobStatus
	Percent         *float64
	DownloadedBytes *int64
	TotalBytes      *int64
	Speed           *float64
	ETA             *int64
	Filename        *string
	Title           *string
	Error           *string
	QueuedAt        *time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time

	// Transfer figures are per-callback: a callback that omits them means
	// "unknown now", not "unchanged".
	ClearTransfer bool
	// ClearOutcome drops what a previous run of the same key left behind
	// (title, filename, error, started/finished timestamps).
	ClearOutcome bool
}

// Apply merges the patch into the job field by field:
//   - Status, DownloadedBytes, Filename, Title, Error and the timestamps are
//     overwritten when set.
//   - Percent is overwritten when set and otherwise keeps the last known value,
//     even when TotalBytes becomes unknown.
//   - TotalBytes, Speed and ETA are overwritten when set; with ClearTransfer
//     an unset one is reset to null.
func (j *Job) Apply(p JobPatch) {
	if p.ClearOutcome {
		j.Title = nil
		j.Filename = nil
		j.Error = nil
		j.FinishedAt = nil
		j.StartedAt = nil
	}
	if p.ClearTransfer {
		j.TotalBytes = nil
		j.Speed = nil
		j.ETA = nil
	}
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Percent != nil {
		j.Percent = Float64(*p.Percent)
	}
	if p.DownloadedBytes != nil {
		j.DownloadedBytes = *p.DownloadedBytes
	}
	if p.TotalBytes != nil {
		j.TotalBytes = Int64(*p.TotalBytes)
	}
	if p.Speed != nil {
		j.Speed = Float64(*p.Speed)
	}
	if p.ETA != nil {
		j.ETA = Int64(*p.ETA)
	}
	if p.Filename != nil {
		j.Filename = String(*p.Filename)
	}
	if p.Title != nil {
		j.Title = String(*p.Title)
	}
	if p.Error != nil {
		j.Error = String(*p.Error)
	}
	if p.QueuedAt != nil {
		j.QueuedAt = Time(*p.QueuedAt)
	}
	if p.StartedAt != nil {
		j.StartedAt = Time(*p.StartedAt)
	}
	if p.FinishedAt != nil {
		j.FinishedAt = Time(*p.FinishedAt)
	}
}

// Clone returns a deep copy so callers never share pointers with the registry
func (j Job) Clone() Job {
	c := j
	c.Percent = clonePtr(j.Percent)
	c.TotalBytes = clonePtr(j.TotalBytes)
	c.Speed = clonePtr(j.Speed)
	c.ETA = clonePtr(j.ETA)
	c.Filename = clonePtr(j.Filename)
	c.Title = clonePtr(j.Title)
	c.Error = clonePtr(j.Error)
	c.QueuedAt = clonePtr(j.QueuedAt)
	c.StartedAt = clonePtr(j.StartedAt)
	c.FinishedAt = clonePtr(j.FinishedAt)
	return c
}

// ComputePercent returns downloaded/total*100 rounded to two decimals.
// ok is false when total is unknown or not positive.
func ComputePercent(downloaded int64, total *int64) (percent float64, ok bool) {
	if total == nil || *total <= 0 {
		return 0, false
	}
	p := float64(downloaded) / float64(*total) * 100
	return math.Round(p*100) / 100, true
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Pointer helpers for building patches.

func String(v string) *string { return &v }
func Int64(v int64) *int64 { return &v }
func Float64(v float64) *float64 { return &v }
func Time(v time.Time) *time.Time { return &v }
func Status(v JobStatus) *JobStatus { return &v }
