package domain

import "time"

// ArchivedJob is a terminal job recorded in the history archive
type ArchivedJob struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	Key             string     `json:"videoId" gorm:"column:video_key;not null;index"`
	Status          JobStatus  `json:"status" gorm:"not null;index"`
	Title           string     `json:"title,omitempty"`
	Filename        string     `json:"filename,omitempty"`
	DownloadedBytes int64      `json:"downloaded_bytes"`
	ErrorMessage    string     `json:"error,omitempty"`
	QueuedAt        *time.Time `json:"queued_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      time.Time  `json:"finished_at" gorm:"index"`
}

// NewArchivedJob converts a terminal job snapshot
func NewArchivedJob(job Job) *ArchivedJob {
	a := &ArchivedJob{
		Key:             job.Key,
		Status:          job.Status,
		DownloadedBytes: job.DownloadedBytes,
		QueuedAt:        job.QueuedAt,
		StartedAt:       job.StartedAt,
		FinishedAt:      time.Now(),
	}
	if job.Title != nil {
		a.Title = *job.Title
	}
	if job.Filename != nil {
		a.Filename = *job.Filename
	}
	if job.Error != nil {
		a.ErrorMessage = *job.Error
	}
	if job.FinishedAt != nil {
		a.FinishedAt = *job.FinishedAt
	}
	return a
}

// JobArchive records terminal jobs. It is write-mostly history: the live
// registry is never restored from it.
type JobArchive interface {
	// Record appends a terminal job
	Record(job *ArchivedJob) error

	// List returns archived jobs, newest first; key filters when non-empty
	List(key string, limit int) ([]*ArchivedJob, error)

	// GetStats returns counts of archived outcomes
	GetStats() (*ArchiveStats, error)
}

// ArchiveStats represents archive statistics
type ArchiveStats struct {
	Total    int64 `json:"total"`
	Finished int64 `json:"finished"`
	Failed   int64 `json:"failed"`
}

// JobStats represents live registry statistics
type JobStats struct {
	Total       int64 `json:"total"`
	Queued      int64 `json:"queued"`
	Starting    int64 `json:"starting"`
	Downloading int64 `json:"downloading"`
	Extracting  int64 `json:"extracting"`
	Finished    int64 `json:"finished"`
	Failed      int64 `json:"error"`
}
