package app

import (
	"go.uber.org/zap"

	"github.com/yourusername/yt-relay/internal/domain"
)

// JobNotifier is told about every job that reaches a terminal state
type JobNotifier interface {
	NotifyJob(job domain.Job)
}

// ArchiveTerminalJobs records each finished or failed job in archive.
// Archive errors are logged; they never affect the live job.
func ArchiveTerminalJobs(bridge *ProgressBridge, archive domain.JobArchive, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bridge.OnTerminal(func(job domain.Job) {
		if err := archive.Record(domain.NewArchivedJob(job)); err != nil {
			logger.Error("failed to archive job", zap.String("key", job.Key), zap.Error(err))
		}
	})
}

// NotifyTerminalJobs forwards terminal jobs to notifier
func NotifyTerminalJobs(bridge *ProgressBridge, notifier JobNotifier) {
	bridge.OnTerminal(notifier.NotifyJob)
}
