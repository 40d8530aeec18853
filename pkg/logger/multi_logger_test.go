package logger

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewMultiLogger_RequiresDir(t *testing.T) {
	_, err := NewMultiLogger(MultiLoggerConfig{})
	assert.Error(t, err)
}

func TestMultiLogger_CategoryFiles(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)
	defer ml.Close()

	reader := NewLogReader(dir)
	for _, category := range Categories {
		_, err := os.Stat(reader.GetTodayLogPath(category))
		assert.NoError(t, err, category)
	}

	// The error file only takes error level
	ml.Error().Info("ignored")
	ml.Error().Error("boom")
	require.NoError(t, ml.Sync())

	entries, err := reader.ReadTodayLogs(CategoryError, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Message)
}

func TestLoggerAdapter_TeesCategories(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)
	defer ml.Close()

	adapter := NewLoggerAdapter(zap.NewNop(), ml)
	adapter.Job().Info("job_queued", zap.String("key", "abc123"))
	adapter.Job().Error("job_failed", zap.String("key", "abc123"))
	adapter.Connection().Info("observer_connected", zap.String("observer", "o-1"))
	require.NoError(t, adapter.Sync())

	reader := NewLogReader(dir)

	jobs, err := reader.ReadTodayLogs(CategoryJob, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job_queued", jobs[0].Message)
	assert.Equal(t, "abc123", jobs[0].Key)

	errs, err := reader.ReadTodayLogs(CategoryError, 0)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "job_failed", errs[0].Message)

	conns, err := reader.ReadTodayLogs(CategoryConnection, 0)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "o-1", conns[0].Fields["observer"])
}

func TestSingleLoggerAdapter(t *testing.T) {
	adapter := NewSingleLoggerAdapter(nil)
	assert.NotNil(t, adapter.General())
	assert.NotNil(t, adapter.Job())
	assert.NotNil(t, adapter.Error())
	adapter.Job().Info("no files")
}

func TestMultiLogger_FileNames(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "debug", LogsDir: dir})
	require.NoError(t, err)
	require.NoError(t, ml.Close())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	today := time.Now().Format("20060102")
	for _, f := range files {
		assert.True(t, strings.HasSuffix(f.Name(), "-"+today+".log"), f.Name())
	}
	assert.Len(t, files, len(Categories))
}
