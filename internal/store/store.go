// Package store is the SQLite destination for loaded Slurm resources. Each
// resource gets its own table of raw JSON rows; every load is recorded in
// load_runs.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultPath is the database file used when none is configured.
const DefaultPath = "slurm.db"

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

var tableName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Record is one row of a resource table.
type Record struct {
	Key       string `gorm:"primaryKey"`
	Data      string `gorm:"type:text;not null"`
	LoadRunID string `gorm:"index"`
	UpdatedAt time.Time
}

// LoadRun records one load.
type LoadRun struct {
	ID         string `gorm:"primaryKey"`
	Pipeline   string `gorm:"index"`
	Dataset    string
	Status     string
	Tables     string `gorm:"type:text"`
	Error      string `gorm:"type:text"`
	StartedAt  time.Time
	FinishedAt *time.Time
}

// TableCounts decodes the per-table row counts of a finished run.
func (r *LoadRun) TableCounts() map[string]int {
	counts := map[string]int{}
	if r.Tables != "" {
		_ = json.Unmarshal([]byte(r.Tables), &counts)
	}
	return counts
}

// Row is a record to upsert.
type Row struct {
	Key  string
	Data []byte
}

// Store wraps the gorm connection.
type Store struct {
	db   *gorm.DB
	path string
	log  logger.Logger
}

// Open opens (creating if needed) the database at path and migrates
// load_runs.
func Open(path string, log logger.Logger) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if log == nil {
		log = logger.Noop()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, storeError(err, fmt.Sprintf("Can't create directory for %s", path))
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, storeError(err, fmt.Sprintf("Can't open database %s", path))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, storeError(err, "Can't get database handle")
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, storeError(err, "Can't enable WAL mode")
	}

	if err := db.AutoMigrate(&LoadRun{}); err != nil {
		sqlDB.Close()
		return nil, storeError(err, "Can't migrate load_runs")
	}

	log.Debug("opened store %s", path)
	return &Store{db: db, path: path, log: log}, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// BeginRun inserts a running load_runs row with a fresh ID.
func (s *Store) BeginRun(pipeline, dataset string) (*LoadRun, error) {
	run := &LoadRun{
		ID:        uuid.NewString(),
		Pipeline:  pipeline,
		Dataset:   dataset,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, storeError(err, "Can't record load run")
	}
	return run, nil
}

// FinishRun marks run finished with the given counts and outcome.
func (s *Store) FinishRun(run *LoadRun, tables map[string]int, runErr error) error {
	counts, err := json.Marshal(tables)
	if err != nil {
		return storeError(err, "Can't encode table counts")
	}
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Tables = string(counts)
	run.Status = RunSucceeded
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	}
	if err := s.db.Save(run).Error; err != nil {
		return storeError(err, "Can't update load run")
	}
	return nil
}

// Runs returns the most recent runs first.
func (s *Store) Runs(limit int) ([]LoadRun, error) {
	var runs []LoadRun
	q := s.db.Order("started_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, storeError(err, "Can't list load runs")
	}
	return runs, nil
}

// Upsert writes rows into the table for resource, replacing rows with the
// same key. The table is created on first use.
func (s *Store) Upsert(resource, runID string, rows []Row) (int, error) {
	if !tableName.MatchString(resource) {
		return 0, errors.New(errors.ErrStore,
			fmt.Sprintf("Invalid table name %q", resource),
			"Resource names must be lowercase letters, digits and underscores")
	}
	if err := s.db.Table(resource).AutoMigrate(&Record{}); err != nil {
		return 0, storeError(err, fmt.Sprintf("Can't create table %s", resource))
	}
	if len(rows) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, Record{Key: r.Key, Data: string(r.Data), LoadRunID: runID, UpdatedAt: now})
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Table(resource).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"data", "load_run_id", "updated_at"}),
			}).
			CreateInBatches(records, 200).Error
	})
	if err != nil {
		return 0, storeError(err, fmt.Sprintf("Can't write %d rows to %s", len(records), resource))
	}
	s.log.Debug("upserted %d rows into %s", len(records), resource)
	return len(records), nil
}

// Count returns the number of rows in resource's table.
func (s *Store) Count(resource string) (int64, error) {
	var n int64
	if err := s.db.Table(resource).Count(&n).Error; err != nil {
		return 0, storeError(err, fmt.Sprintf("Can't count %s", resource))
	}
	return n, nil
}

// Get returns one row of resource by key.
func (s *Store) Get(resource, key string) (*Record, error) {
	var rec Record
	if err := s.db.Table(resource).Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).First(&rec).Error; err != nil {
		return nil, storeError(err, fmt.Sprintf("No %s row with key %q", resource, key))
	}
	return &rec, nil
}

func storeError(err error, message string) error {
	return errors.WrapWithCode(err, errors.ErrStore, message, "Check store.path and that the file is writable")
}
