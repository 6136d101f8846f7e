package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/continuumhq/continuum/types"
)

// Store is the durable, append-only home of session snapshots. Snapshots
// are immutable: there is no update or delete operation.
type Store interface {
	// Append persists a new snapshot. It fails with DUPLICATE_SNAPSHOT when
	// (WorkflowID, SessionNumber) already exists.
	Append(ctx context.Context, snap *SessionSnapshot) error
	// Get returns a snapshot by id, or SNAPSHOT_NOT_FOUND.
	Get(ctx context.Context, id string) (*SessionSnapshot, error)
	// Latest returns the highest-session-number snapshot of a workflow, or
	// SNAPSHOT_NOT_FOUND when the workflow has none.
	Latest(ctx context.Context, workflowID string) (*SessionSnapshot, error)
	// List returns the workflow's snapshot summaries ordered by creation time.
	List(ctx context.Context, workflowID string) ([]Summary, error)
}

// snapshotRecord is the relational row. The full snapshot is a JSON
// document; trigger, timestamps and task counts are broken out into
// columns for indexed listing.
type snapshotRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	WorkflowID     string `gorm:"size:64;index;uniqueIndex:idx_workflow_session,priority:1"`
	SessionNumber  int    `gorm:"uniqueIndex:idx_workflow_session,priority:2"`
	Trigger        string `gorm:"size:32"`
	TasksCompleted int
	TasksRemaining int
	Document       []byte `gorm:"type:blob"`
	CreatedAt      time.Time
}

// TableName sets the table name for gorm.
func (snapshotRecord) TableName() string {
	return "session_snapshots"
}

// GormStore is the relational Store implementation.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a gorm-backed snapshot store.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "snapshot_store")),
	}
}

// AutoMigrate creates the snapshot table. Production deployments use the
// versioned migrations in internal/migration instead.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&snapshotRecord{})
}

// Append implements Store.
func (s *GormStore) Append(ctx context.Context, snap *SessionSnapshot) error {
	if snap.ID == "" {
		return types.NewError(types.ErrStorageFailure, "snapshot has no id")
	}

	doc, err := json.Marshal(snap)
	if err != nil {
		return types.NewError(types.ErrStorageFailure, "serialize snapshot").WithCause(err)
	}

	record := snapshotRecord{
		ID:             snap.ID,
		WorkflowID:     snap.WorkflowID,
		SessionNumber:  snap.SessionNumber,
		Trigger:        string(snap.Trigger),
		TasksCompleted: snap.TasksCompleted,
		TasksRemaining: snap.TasksRemaining,
		Document:       doc,
		CreatedAt:      snap.CreatedAt,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&snapshotRecord{}).
			Where("workflow_id = ? AND session_number = ?", snap.WorkflowID, snap.SessionNumber).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return types.NewError(types.ErrDuplicateSnapshot,
				fmt.Sprintf("snapshot for workflow %s session %d already exists", snap.WorkflowID, snap.SessionNumber))
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		if types.GetErrorCode(err) == types.ErrDuplicateSnapshot {
			return err
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return types.NewError(types.ErrDuplicateSnapshot,
				fmt.Sprintf("snapshot for workflow %s session %d already exists", snap.WorkflowID, snap.SessionNumber))
		}
		return types.NewError(types.ErrStorageFailure, "append snapshot").WithCause(err)
	}

	s.logger.Info("snapshot persisted",
		zap.String("snapshot_id", snap.ID),
		zap.String("workflow_id", snap.WorkflowID),
		zap.Int("session_number", snap.SessionNumber),
		zap.String("trigger", string(snap.Trigger)),
	)
	return nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, id string) (*SessionSnapshot, error) {
	var record snapshotRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrSnapshotNotFound, fmt.Sprintf("snapshot %s not found", id))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "load snapshot").WithCause(err)
	}
	return decodeDocument(record.Document)
}

// Latest implements Store.
func (s *GormStore) Latest(ctx context.Context, workflowID string) (*SessionSnapshot, error) {
	var record snapshotRecord
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("session_number DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrSnapshotNotFound,
			fmt.Sprintf("workflow %s has no snapshots", workflowID))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "load latest snapshot").WithCause(err)
	}
	return decodeDocument(record.Document)
}

// List implements Store.
func (s *GormStore) List(ctx context.Context, workflowID string) ([]Summary, error) {
	var records []snapshotRecord
	err := s.db.WithContext(ctx).
		Select("id", "session_number", "trigger", "created_at", "tasks_completed", "tasks_remaining").
		Where("workflow_id = ?", workflowID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "list snapshots").WithCause(err)
	}

	summaries := make([]Summary, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, Summary{
			ID:             r.ID,
			SessionNumber:  r.SessionNumber,
			Trigger:        Trigger(r.Trigger),
			CreatedAt:      r.CreatedAt,
			TasksCompleted: r.TasksCompleted,
			TasksRemaining: r.TasksRemaining,
		})
	}
	return summaries, nil
}

func decodeDocument(doc []byte) (*SessionSnapshot, error) {
	var snap SessionSnapshot
	if err := json.Unmarshal(doc, &snap); err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "decode snapshot document").WithCause(err)
	}
	return &snap, nil
}
