package snapshot

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/types"
)

// MongoStore is a document-database Store implementation. Deployments
// that already run MongoDB can keep snapshots there instead of the
// relational store; the invariants are identical.
type MongoStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStore creates a MongoDB-backed snapshot store using the
// "session_snapshots" collection of db.
func NewMongoStore(db *mongo.Database, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		coll:   db.Collection("session_snapshots"),
		logger: logger.With(zap.String("component", "snapshot_store_mongo")),
	}
}

// EnsureIndexes creates the unique (workflow_id, session_number) index
// that enforces the append-only invariant at write time.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "workflow_id", Value: 1},
			{Key: "session_number", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return types.NewError(types.ErrStorageFailure, "create snapshot indexes").WithCause(err)
	}
	return nil
}

// Append implements Store.
func (s *MongoStore) Append(ctx context.Context, snap *SessionSnapshot) error {
	if snap.ID == "" {
		return types.NewError(types.ErrStorageFailure, "snapshot has no id")
	}

	_, err := s.coll.InsertOne(ctx, snap)
	if mongo.IsDuplicateKeyError(err) {
		return types.NewError(types.ErrDuplicateSnapshot,
			fmt.Sprintf("snapshot for workflow %s session %d already exists", snap.WorkflowID, snap.SessionNumber))
	}
	if err != nil {
		return types.NewError(types.ErrStorageFailure, "append snapshot").WithCause(err)
	}

	s.logger.Info("snapshot persisted",
		zap.String("snapshot_id", snap.ID),
		zap.String("workflow_id", snap.WorkflowID),
		zap.Int("session_number", snap.SessionNumber),
	)
	return nil
}

// Get implements Store.
func (s *MongoStore) Get(ctx context.Context, id string) (*SessionSnapshot, error) {
	var snap SessionSnapshot
	err := s.coll.FindOne(ctx, bson.D{{Key: "id", Value: id}}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.NewError(types.ErrSnapshotNotFound, fmt.Sprintf("snapshot %s not found", id))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "load snapshot").WithCause(err)
	}
	return &snap, nil
}

// Latest implements Store.
func (s *MongoStore) Latest(ctx context.Context, workflowID string) (*SessionSnapshot, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "session_number", Value: -1}})

	var snap SessionSnapshot
	err := s.coll.FindOne(ctx, bson.D{{Key: "workflow_id", Value: workflowID}}, opts).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.NewError(types.ErrSnapshotNotFound,
			fmt.Sprintf("workflow %s has no snapshots", workflowID))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "load latest snapshot").WithCause(err)
	}
	return &snap, nil
}

// List implements Store.
func (s *MongoStore) List(ctx context.Context, workflowID string) ([]Summary, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := s.coll.Find(ctx, bson.D{{Key: "workflow_id", Value: workflowID}}, opts)
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "list snapshots").WithCause(err)
	}
	defer cursor.Close(ctx)

	var summaries []Summary
	for cursor.Next(ctx) {
		var snap SessionSnapshot
		if err := cursor.Decode(&snap); err != nil {
			return nil, types.NewError(types.ErrStorageFailure, "decode snapshot").WithCause(err)
		}
		summaries = append(summaries, Summary{
			ID:             snap.ID,
			SessionNumber:  snap.SessionNumber,
			Trigger:        snap.Trigger,
			CreatedAt:      snap.CreatedAt,
			TasksCompleted: snap.TasksCompleted,
			TasksRemaining: snap.TasksRemaining,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "iterate snapshots").WithCause(err)
	}
	return summaries, nil
}
