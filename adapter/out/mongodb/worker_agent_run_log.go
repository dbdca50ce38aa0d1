package mongodb

import (
	"context"
	"fmt"
	"time"

	"jenn_worker/core/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// AgentRunLog - business agent audit trail
// =============================================================================

const agentRunsCollection = "agent_runs"

type AgentRunLog struct {
	collection *mongo.Collection
}

func NewAgentRunLog(client *mongo.Client, database string) *AgentRunLog {
	return &AgentRunLog{collection: client.Database(database).Collection(agentRunsCollection)}
}

// EnsureIndexes creates the account/time index and a TTL so audits expire after retention.
func (l *AgentRunLog) EnsureIndexes(ctx context.Context, retention time.Duration) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "email_account_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if retention > 0 {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		})
	}
	if _, err := l.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create agent run indexes: %w", err)
	}
	return nil
}

func (l *AgentRunLog) Save(ctx context.Context, run *domain.AgentRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if _, err := l.collection.InsertOne(ctx, run); err != nil {
		return fmt.Errorf("failed to save agent run: %w", err)
	}
	return nil
}

// ListByAccount returns the newest runs first.
func (l *AgentRunLog) ListByAccount(ctx context.Context, emailAccountID int64, limit int64) ([]*domain.AgentRun, error) {
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cursor, err := l.collection.Find(ctx, bson.M{"email_account_id": emailAccountID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []*domain.AgentRun
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}
