package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aneshas/eventlog"
)

var _ eventlog.CheckpointStore = (*CheckpointStore)(nil)

type gormCheckpoint struct {
	Name       string `gorm:"primaryKey"`
	Checkpoint string
	UpdatedAt  time.Time
}

// TableName returns gorm table name
func (gc *gormCheckpoint) TableName() string { return "subscription_checkpoint" }

// CheckpointStore persists named subscription checkpoints in the
// database of the engine
type CheckpointStore struct {
	db *gorm.DB
}

// Checkpoints returns a checkpoint store sharing the engine connection
func (e *Engine) Checkpoints() *CheckpointStore {
	return &CheckpointStore{db: e.db}
}

// Load returns the stored checkpoint of name, or an empty checkpoint
func (s *CheckpointStore) Load(ctx context.Context, name string) (string, error) {
	var cp gormCheckpoint

	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return cp.Checkpoint, nil
}

// Save stores the checkpoint of name
func (s *CheckpointStore) Save(ctx context.Context, name, checkpoint string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"checkpoint", "updated_at"}),
		}).
		Create(&gormCheckpoint{
			Name:       name,
			Checkpoint: checkpoint,
			UpdatedAt:  time.Now().UTC(),
		}).Error
}
