package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/yt-relay/internal/domain"
)

// OutputLayout decides where a download lands: base dir, an optional
// time-based subfolder and the engine's filename template.
type OutputLayout struct {
	baseDir          string
	subfolderLayout  string
	filenameTemplate string
}

// NewOutputLayout creates an output layout from download configuration
func NewOutputLayout(cfg domain.DownloadConfig) *OutputLayout {
	return &OutputLayout{
		baseDir:          cfg.BaseDir,
		subfolderLayout:  cfg.SubfolderLayout,
		filenameTemplate: cfg.FilenameTemplate,
	}
}

// Dir returns the target directory for a download started at now
func (l *OutputLayout) Dir(now time.Time) string {
	if l.subfolderLayout == "" {
		return l.baseDir
	}
	return filepath.Join(l.baseDir, now.Format(l.subfolderLayout))
}

// Prepare creates the target directory and returns the output template
func (l *OutputLayout) Prepare(now time.Time) (string, error) {
	dir := l.Dir(now)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return filepath.Join(dir, l.filenameTemplate), nil
}
