package domain

import "context"

// Engine status tokens reported through ProgressUpdate.Status
const (
	EngineStatusDownloading    = "downloading"
	EngineStatusFinished       = "finished" // transfer done, post-processing follows
	EngineStatusPostProcessing = "post_processing"
	EngineStatusError          = "error"
)

// ProgressUpdate is one raw progress notification from a download engine.
// Optional figures are nil when the engine does not know them.
type ProgressUpdate struct {
	Status          string
	DownloadedBytes int64
	TotalBytes      *int64
	Speed           *float64 // bytes per second
	ETA             *int64   // seconds
	Filename        string   // transient (.part) name while downloading, final name when finished
}

// ProgressFunc receives progress updates. Engines call it serially for one
// download and never after Download returns.
type ProgressFunc func(update ProgressUpdate)

// DownloadResult is what an engine reports on success
type DownloadResult struct {
	Title    string
	Filename string
}

// Engine performs a blocking media download
type Engine interface {
	// Download fetches url into outputTemplate, reporting progress along the way
	Download(ctx context.Context, url, outputTemplate string, progress ProgressFunc) (*DownloadResult, error)

	// Name identifies the engine in logs
	Name() string
}
