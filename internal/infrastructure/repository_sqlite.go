package infrastructure

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourusername/yt-relay/internal/domain"
)

// maxHistory caps a single List call
const maxHistory = 1000

// SQLiteJobArchive implements domain.JobArchive using SQLite
type SQLiteJobArchive struct {
	db *gorm.DB
}

// NewSQLiteJobArchive opens (creating if needed) the archive at dbPath
func NewSQLiteJobArchive(dbPath string) (*SQLiteJobArchive, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.ArchivedJob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteJobArchive{db: db}, nil
}

// Record appends a terminal job
func (r *SQLiteJobArchive) Record(job *domain.ArchivedJob) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("cannot archive job %s in status %s", job.Key, job.Status)
	}
	return r.db.Create(job).Error
}

// List returns archived jobs newest first, optionally for a single key
func (r *SQLiteJobArchive) List(key string, limit int) ([]*domain.ArchivedJob, error) {
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}

	query := r.db.Model(&domain.ArchivedJob{})
	if key != "" {
		query = query.Where("video_key = ?", key)
	}

	var jobs []*domain.ArchivedJob
	err := query.Order("finished_at DESC, id DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// GetStats returns counts of archived outcomes
func (r *SQLiteJobArchive) GetStats() (*domain.ArchiveStats, error) {
	stats := &domain.ArchiveStats{}

	if err := r.db.Model(&domain.ArchivedJob{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	statusCounts := []struct {
		Status domain.JobStatus
		Count  int64
	}{}

	if err := r.db.Model(&domain.ArchivedJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range statusCounts {
		switch sc.Status {
		case domain.StatusFinished:
			stats.Finished = sc.Count
		case domain.StatusError:
			stats.Failed = sc.Count
		}
	}

	return stats, nil
}

// Close closes the database connection
func (r *SQLiteJobArchive) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
