package infrastructure

import (
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/yt-relay/internal/domain"
)

// commandRunner runs a notification binary; swapped out in tests
type commandRunner func(name string, args ...string) error

func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// NotificationService handles sending desktop notifications
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    commandRunner
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		config: config,
		logger: logger,
		run:    runCommand,
	}
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	var err error
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf(`display notification %s with title %s`, appleScriptQuote(message), appleScriptQuote(title))
		err = n.run("osascript", "-e", script)
	case "notify-send":
		err = n.run("notify-send", title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	if err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

// NotifyJob sends the notification matching a terminal job
func (n *NotificationService) NotifyJob(job domain.Job) {
	switch job.Status {
	case domain.StatusFinished:
		n.NotifyJobFinished(job)
	case domain.StatusError:
		n.NotifyJobFailed(job)
	}
}

// NotifyJobFinished sends notification when a download completes
func (n *NotificationService) NotifyJobFinished(job domain.Job) {
	name := job.Key
	if job.Title != nil && *job.Title != "" {
		name = *job.Title
	}
	n.Send("Download Completed", truncateString(name, 60))
}

// NotifyJobFailed sends notification when a download fails
func (n *NotificationService) NotifyJobFailed(job domain.Job) {
	message := job.Key
	if job.Error != nil {
		message = fmt.Sprintf("%s: %s", job.Key, *job.Error)
	}
	n.Send("Download Failed", truncateString(message, 60))
}

// appleScriptQuote renders s as an AppleScript string literal
func appleScriptQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// truncateString truncates a string to the specified number of runes
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
