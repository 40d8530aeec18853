package infrastructure

import (
	"context"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"github.com/yourusername/yt-relay/internal/domain"
)

// progressInterval throttles callbacks from go-ytdlp
const progressInterval = 500 * time.Millisecond

// YTDLPLibraryEngine implements domain.Engine on top of go-ytdlp
type YTDLPLibraryEngine struct {
	config domain.DownloadConfig
	logger *zap.Logger
}

// NewYTDLPLibraryEngine creates a go-ytdlp backed engine
func NewYTDLPLibraryEngine(config domain.DownloadConfig, logger *zap.Logger) *YTDLPLibraryEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YTDLPLibraryEngine{config: config, logger: logger}
}

// Name identifies the engine in logs
func (e *YTDLPLibraryEngine) Name() string {
	return "go-ytdlp"
}

// Download runs yt-dlp through go-ytdlp
func (e *YTDLPLibraryEngine) Download(ctx context.Context, url, output string, progress domain.ProgressFunc) (*domain.DownloadResult, error) {
	if progress == nil {
		progress = func(domain.ProgressUpdate) {}
	}

	dl := ytdlp.New().
		NoPlaylist().
		Output(output)
	if e.config.Format != "" {
		dl = dl.Format(e.config.Format)
	}
	if e.config.MergeOutputFormat != "" {
		dl = dl.MergeOutputFormat(e.config.MergeOutputFormat)
	}

	var title string
	dl.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		if update.Info != nil && update.Info.Title != nil {
			title = *update.Info.Title
		}
		if converted, ok := convertProgress(update, time.Now()); ok {
			progress(converted)
		}
	})

	result, err := dl.Run(ctx, url)
	if err != nil {
		e.logger.Warn("go-ytdlp run failed", zap.String("url", url), zap.Error(err))
		return nil, &domain.EngineError{Message: err.Error()}
	}

	out := &domain.DownloadResult{Title: title}
	if result != nil {
		if info, err := result.GetExtractedInfo(); err == nil && len(info) > 0 {
			if info[0].Filename != nil {
				out.Filename = *info[0].Filename
			}
			if info[0].Title != nil {
				out.Title = *info[0].Title
			}
		}
	}
	return out, nil
}

// convertProgress maps a go-ytdlp update to the engine-neutral form.
// Speed is derived from elapsed time since the transfer started.
func convertProgress(update ytdlp.ProgressUpdate, now time.Time) (domain.ProgressUpdate, bool) {
	status := string(update.Status)
	switch status {
	case domain.EngineStatusDownloading, domain.EngineStatusFinished,
		domain.EngineStatusPostProcessing, domain.EngineStatusError:
	default:
		return domain.ProgressUpdate{}, false
	}

	converted := domain.ProgressUpdate{
		Status:          status,
		DownloadedBytes: int64(update.DownloadedBytes),
		Filename:        update.Filename,
	}
	if update.TotalBytes > 0 {
		converted.TotalBytes = domain.Int64(int64(update.TotalBytes))
	}
	if eta := update.ETA(); eta > 0 {
		converted.ETA = domain.Int64(int64(eta.Seconds()))
	}
	if !update.Started.IsZero() {
		if elapsed := now.Sub(update.Started).Seconds(); elapsed > 0 {
			converted.Speed = domain.Float64(float64(update.DownloadedBytes) / elapsed)
		}
	}
	return converted, true
}
