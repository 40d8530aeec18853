package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_IsActive(t *testing.T) {
	assert.True(t, StatusQueued.IsActive())
	assert.True(t, StatusStarting.IsActive())
	assert.True(t, StatusDownloading.IsActive())
	assert.True(t, StatusExtracting.IsActive())
	assert.False(t, StatusFinished.IsActive())
	assert.False(t, StatusError.IsActive())
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusFinished.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusDownloading.IsTerminal())
}

func TestJob_ApplyMergesOnlySetFields(t *testing.T) {
	job := Job{Key: "abc123", Status: StatusDownloading, Percent: Float64(40), DownloadedBytes: 400, TotalBytes: Int64(1000)}

	job.Apply(JobPatch{DownloadedBytes: Int64(500), Filename: String("a.part")})

	assert.Equal(t, StatusDownloading, job.Status)
	assert.Equal(t, int64(500), job.DownloadedBytes)
	require.NotNil(t, job.Percent)
	assert.Equal(t, 40.0, *job.Percent)
	require.NotNil(t, job.TotalBytes)
	assert.Equal(t, int64(1000), *job.TotalBytes)
	assert.Equal(t, "a.part", *job.Filename)
}

func TestJob_ApplyClearTransferKeepsPercent(t *testing.T) {
	job := Job{Percent: Float64(62.5), TotalBytes: Int64(1000), Speed: Float64(10), ETA: Int64(3)}

	job.Apply(JobPatch{ClearTransfer: true, DownloadedBytes: Int64(700)})

	assert.Nil(t, job.TotalBytes)
	assert.Nil(t, job.Speed)
	assert.Nil(t, job.ETA)
	require.NotNil(t, job.Percent)
	assert.Equal(t, 62.5, *job.Percent, "last known percent survives an unknown total")
}

func TestJob_ApplyClearOutcome(t *testing.T) {
	now := time.Now()
	job := Job{Status: StatusError, Error: String("boom"), Title: String("t"), Filename: String("f"), FinishedAt: &now, StartedAt: &now}

	job.Apply(JobPatch{ClearOutcome: true, Status: Status(StatusQueued)})

	assert.Equal(t, StatusQueued, job.Status)
	assert.Nil(t, job.Error)
	assert.Nil(t, job.Title)
	assert.Nil(t, job.Filename)
	assert.Nil(t, job.FinishedAt)
	assert.Nil(t, job.StartedAt)
}

func TestJob_CloneIsDeep(t *testing.T) {
	job := Job{Key: "k", Percent: Float64(1), Title: String("t")}
	c := job.Clone()

	*c.Percent = 99
	*c.Title = "changed"

	assert.Equal(t, 1.0, *job.Percent)
	assert.Equal(t, "t", *job.Title)
}

func TestComputePercent(t *testing.T) {
	tests := []struct {
		name       string
		downloaded int64
		total      *int64
		want       float64
		ok         bool
	}{
		{"unknown total", 10, nil, 0, false},
		{"zero total", 10, Int64(0), 0, false},
		{"half", 50, Int64(100), 50, true},
		{"rounded to two decimals", 1, Int64(3), 33.33, true},
		{"complete", 3, Int64(3), 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ComputePercent(tt.downloaded, tt.total)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
