package history

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/soft_delete"
)

// Record is one row of the history store: a queryable mirror of a single
// BuildEntry from the append-only build log. MarkDead soft-deletes rows
// rather than dropping them, so operators can still audit what used to
// build there. Grounded on
// model/log_entry.go's RbeLogEntry, repurposed from remote-execution
// bookkeeping to local build auditing.
type Record struct {
	ID          int64  `gorm:"primaryKey"`
	Output      string `gorm:"index:idx_output"`
	CommandHash string `gorm:"index:idx_command_hash"`
	ContentHash string `gorm:"index:idx_content_hash"`
	StartTime   int64
	EndTime     int64
	Mtime       int64
	RecordedAt  int64
	DeletedAt   soft_delete.DeletedAt `gorm:"softDelete:flag;default:0"`
}

func (Record) TableName() string { return "build_history" }

// Store is the write side of the history store, backed by a local sqlite
// file via glebarez/sqlite (a cgo-free driver, matching the rest of this
// module's avoidance of cgo for a single-binary build). Never opened over
// a network connection string — path is always a local file.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate history store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordBuild inserts one row per completed command, keyed by output path
// and command hash to match the append-only log's BuildEntry semantics.
func (s *Store) RecordBuild(output, commandHash, contentHash string, startTime, endTime, mtime int64) error {
	rec := &Record{
		Output:      output,
		CommandHash: commandHash,
		ContentHash: contentHash,
		StartTime:   startTime,
		EndTime:     endTime,
		Mtime:       mtime,
		RecordedAt:  time.Now().Unix(),
	}
	return s.db.Create(rec).Error
}

// MarkDead soft-deletes every live row for output. Recompact does not call
// it; rows stay live until a caller marks them dead.
func (s *Store) MarkDead(output string) error {
	return s.db.Where("output = ?", output).Delete(&Record{}).Error
}

// Recent returns the most recent (non-deleted) rows for output, newest
// first, bounded by limit.
func (s *Store) Recent(output string, limit int) ([]Record, error) {
	var recs []Record
	err := s.db.Where("output = ?", output).Order("recorded_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}
