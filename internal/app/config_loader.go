package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/yourusername/yt-relay/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. YTRELAY_SERVER_PORT
const EnvPrefix = "YTRELAY"

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.yt-relay")
		v.AddConfigPath("/etc/yt-relay")
	}

	// AutomaticEnv only resolves keys viper already knows about
	setDefaults(v, config)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, config *domain.Config) {
	for key, value := range configValues(config) {
		v.SetDefault(key, value)
	}
}

// configValues flattens config into viper keys
func configValues(config *domain.Config) map[string]interface{} {
	return map[string]interface{}{
		"server.host": config.Server.Host,
		"server.port": config.Server.Port,

		"download.base_dir":            config.Download.BaseDir,
		"download.subfolder_layout":    config.Download.SubfolderLayout,
		"download.filename_template":   config.Download.FilenameTemplate,
		"download.format":              config.Download.Format,
		"download.merge_output_format": config.Download.MergeOutputFormat,
		"download.url_template":        config.Download.URLTemplate,
		"download.engine":              config.Download.Engine,
		"download.ytdlp_binary":        config.Download.YTDLPBinary,
		"download.concurrent_limit":    config.Download.ConcurrentLimit,

		"broadcast.send_buffer":   config.Broadcast.SendBuffer,
		"broadcast.write_timeout": config.Broadcast.WriteTimeout.String(),
		"broadcast.ping_interval": config.Broadcast.PingInterval.String(),

		"archive.enabled":       config.Archive.Enabled,
		"archive.database_path": config.Archive.DatabasePath,

		"notification.enabled": config.Notification.Enabled,
		"notification.method":  config.Notification.Method,

		"logging.level":       config.Logging.Level,
		"logging.format":      config.Logging.Format,
		"logging.output_path": config.Logging.OutputPath,
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Download.BaseDir = expandPath(config.Download.BaseDir)
	config.Archive.DatabasePath = expandPath(config.Archive.DatabasePath)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	// $HOME first so it resolves even when the variable is unset
	if strings.Contains(path, "$HOME") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Download.BaseDir == "" {
		return fmt.Errorf("download base directory not configured")
	}

	if config.Download.FilenameTemplate == "" {
		return fmt.Errorf("download filename template not configured")
	}

	if !strings.Contains(config.Download.URLTemplate, "%s") {
		return fmt.Errorf("url template must contain %%s: %q", config.Download.URLTemplate)
	}

	switch config.Download.Engine {
	case domain.EngineExec, domain.EngineLibrary:
	default:
		return fmt.Errorf("unknown download engine: %q", config.Download.Engine)
	}

	if config.Download.ConcurrentLimit < 0 {
		return fmt.Errorf("concurrent limit cannot be negative")
	}

	if config.Broadcast.SendBuffer < 1 {
		return fmt.Errorf("broadcast send buffer must be at least 1")
	}

	if config.Archive.Enabled && config.Archive.DatabasePath == "" {
		return fmt.Errorf("archive database path not configured")
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, value := range configValues(config) {
		v.Set(key, value)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
