package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/continuumhq/continuum/task"
	"github.com/continuumhq/continuum/types"
)

// Record is the persisted form of a workflow. TasksDocument holds the
// serialized task graph so a restarted process can rebuild in-memory
// machines and take crash-recovery snapshots.
type Record struct {
	ID            string `gorm:"primaryKey;size:64"`
	Name          string `gorm:"size:255"`
	Summary       string `gorm:"type:text"`
	Status        string `gorm:"size:16;index"`
	PauseReason   string `gorm:"size:512"`
	SessionCount  int
	CurrentTaskID string `gorm:"size:64"`
	StartCommit   string `gorm:"size:64"`
	TasksDocument []byte `gorm:"type:blob"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Record) TableName() string {
	return "workflows"
}

// DecodeTasks deserializes the stored task graph nodes.
func (r *Record) DecodeTasks() ([]task.Node, error) {
	if len(r.TasksDocument) == 0 {
		return nil, nil
	}
	var nodes []task.Node
	if err := json.Unmarshal(r.TasksDocument, &nodes); err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "decode task graph").
			WithCause(err).WithWorkflow(r.ID)
	}
	return nodes, nil
}

// EncodeTasks serializes the task graph nodes into the record.
func (r *Record) EncodeTasks(nodes []task.Node) error {
	data, err := json.Marshal(nodes)
	if err != nil {
		return types.NewError(types.ErrStorageFailure, "encode task graph").
			WithCause(err).WithWorkflow(r.ID)
	}
	r.TasksDocument = data
	return nil
}

// Store persists workflow records.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a workflow store on the given database handle.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "workflow_store"))}
}

// AutoMigrate creates or updates the workflows table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Record{})
}

// Create inserts a new workflow record.
func (s *Store) Create(ctx context.Context, record *Record) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return types.NewError(types.ErrStorageFailure, "create workflow").
			WithCause(err).WithWorkflow(record.ID)
	}
	return nil
}

// Get loads one workflow record by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var record Record
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrWorkflowNotFound, "workflow not found").WithWorkflow(id)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "load workflow").
			WithCause(err).WithWorkflow(id)
	}
	return &record, nil
}

// Save writes the full record back.
func (s *Store) Save(ctx context.Context, record *Record) error {
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		return types.NewError(types.ErrStorageFailure, "save workflow").
			WithCause(err).WithWorkflow(record.ID)
	}
	return nil
}

// List returns all workflow records, newest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "list workflows").WithCause(err)
	}
	return records, nil
}

// ListByStatus returns workflow records in the given status.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	var records []Record
	err := s.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "list workflows by status").WithCause(err)
	}
	return records, nil
}
