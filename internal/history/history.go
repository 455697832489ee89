// Package history keeps a ledger of posting runs and per-row outcomes in
// the history database.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/postyard/internal/engine"
	"github.com/zulandar/postyard/internal/models"
	"gorm.io/gorm"
)

// Store reads and writes run history.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a Store on an already migrated database.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("history: db is required")
	}
	return &Store{db: db, now: time.Now}, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// BeginRun records the start of a run. An empty id is replaced with a new one.
func (s *Store) BeginRun(ctx context.Context, id, username, inputPath string) (*models.Run, error) {
	if id == "" {
		id = NewRunID()
	}
	run := models.Run{
		ID:        id,
		Username:  username,
		InputPath: inputPath,
		Status:    models.RunRunning,
		StartedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, fmt.Errorf("history: begin run: %w", err)
	}
	return &run, nil
}

// FinishRun stores the final status and counters of a run.
func (s *Store) FinishRun(ctx context.Context, id, status string, res engine.Result, runErr error) error {
	finished := s.now()
	updates := map[string]interface{}{
		"status":      status,
		"total":       res.Total,
		"posted":      res.Posted,
		"failed":      res.Failed,
		"skipped":     res.Skipped,
		"finished_at": &finished,
	}
	if runErr != nil {
		updates["error"] = runErr.Error()
	}
	result := s.db.WithContext(ctx).Model(&models.Run{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("history: finish run %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("history: run not found: %s", id)
	}
	return nil
}

// RecordAttempt stores one row outcome for a run.
func (s *Store) RecordAttempt(ctx context.Context, runID string, a engine.Attempt) error {
	rec := models.PostAttempt{
		RunID:     runID,
		Filename:  a.Filename,
		Outcome:   string(a.Outcome),
		Detail:    a.Detail,
		MediaID:   a.MediaID,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("history: record attempt: %w", err)
	}
	return nil
}

// ForRun returns an engine.AttemptRecorder bound to runID.
func (s *Store) ForRun(runID string) engine.AttemptRecorder {
	return runRecorder{store: s, runID: runID}
}

type runRecorder struct {
	store *Store
	runID string
}

func (r runRecorder) RecordAttempt(ctx context.Context, a engine.Attempt) error {
	return r.store.RecordAttempt(ctx, r.runID, a)
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.Run
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("history: recent runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("history: run not found: %s", id)
		}
		return nil, fmt.Errorf("history: get run %s: %w", id, err)
	}
	return &run, nil
}

// Attempts returns the attempts of a run in the order they happened.
func (s *Store) Attempts(ctx context.Context, runID string) ([]models.PostAttempt, error) {
	var out []models.PostAttempt
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("history: attempts for %s: %w", runID, err)
	}
	return out, nil
}
