package domain

import (
	"path/filepath"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Download     DownloadConfig     `mapstructure:"download"`
	Broadcast    BroadcastConfig    `mapstructure:"broadcast"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Engine names
const (
	EngineExec    = "exec"    // yt-dlp binary as a child process
	EngineLibrary = "library" // go-ytdlp wrapper
)

// DownloadConfig contains download-related configuration
type DownloadConfig struct {
	BaseDir           string `mapstructure:"base_dir"`
	SubfolderLayout   string `mapstructure:"subfolder_layout"`  // Go time layout, empty for none
	FilenameTemplate  string `mapstructure:"filename_template"` // yt-dlp output template
	Format            string `mapstructure:"format"`
	MergeOutputFormat string `mapstructure:"merge_output_format"`
	URLTemplate       string `mapstructure:"url_template"`
	Engine            string `mapstructure:"engine"`
	YTDLPBinary       string `mapstructure:"ytdlp_binary"`
	// ConcurrentLimit caps simultaneous workers; 0 means unbounded
	ConcurrentLimit int `mapstructure:"concurrent_limit"`
}

// LogsDir returns the logs directory path
func (c DownloadConfig) LogsDir() string {
	return filepath.Join(c.BaseDir, "logs")
}

// BroadcastConfig contains observer delivery configuration
type BroadcastConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`   // per-observer queued messages before it is dropped
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// ArchiveConfig contains job history configuration
type ArchiveConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DatabasePath string `mapstructure:"database_path"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Method  string `mapstructure:"method"` // osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8765,
		},
		Download: DownloadConfig{
			BaseDir:           "$HOME/Downloads/YouTube",
			SubfolderLayout:   "2006-01-02_15",
			FilenameTemplate:  "%(title)s.%(ext)s",
			Format:            "best[height<=360]+bestaudio/best[height<=360]",
			MergeOutputFormat: "mp4",
			URLTemplate:       "https://www.youtube.com/watch?v=%s",
			Engine:            EngineExec,
			YTDLPBinary:       "yt-dlp",
			ConcurrentLimit:   0,
		},
		Broadcast: BroadcastConfig{
			SendBuffer:   256,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Archive: ArchiveConfig{
			Enabled:      true,
			DatabasePath: "$HOME/Downloads/YouTube/.yt-relay/history.db",
		},
		Notification: NotificationConfig{
			Enabled: false,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
