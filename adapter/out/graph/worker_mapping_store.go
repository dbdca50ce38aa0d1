package graph

import (
	"context"
	"fmt"
	"time"

	"jenn_worker/core/domain"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// =============================================================================
// Neo4j Entity Mapping Store - bridge source -> target ids
// =============================================================================

// MappingStore keeps (:SourceEntity)-[:MAPS_TO]->(:TargetEntity) edges per email account.
type MappingStore struct {
	driver neo4j.DriverWithContext
	dbName string
}

func NewMappingStore(driver neo4j.DriverWithContext, dbName string) *MappingStore {
	return &MappingStore{driver: driver, dbName: dbName}
}

// EnsureIndexes creates the lookup constraint. Safe to run on every start.
func (s *MappingStore) EnsureIndexes(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT source_entity_key IF NOT EXISTS
		 FOR (e:SourceEntity) REQUIRE (e.account_id, e.kind, e.system, e.key) IS UNIQUE`,
		`CREATE INDEX target_entity_idx IF NOT EXISTS FOR (t:TargetEntity) ON (t.account_id, t.system, t.id)`,
	}
	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to ensure mapping index: %w", err)
		}
	}
	return nil
}

func (s *MappingStore) Get(ctx context.Context, accountID int64, kind domain.EntityKind, sourceSystem, sourceKey string) (*domain.EntityMapping, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.dbName,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	query := `
		MATCH (e:SourceEntity {account_id: $accountID, kind: $kind, system: $system, key: $key})-[:MAPS_TO]->(t:TargetEntity)
		RETURN t.system AS target_system, t.id AS target_id
		LIMIT 1
	`
	result, err := session.Run(ctx, query, map[string]any{
		"accountID": accountID,
		"kind":      string(kind),
		"system":    sourceSystem,
		"key":       sourceKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}
	if !result.Next(ctx) {
		return nil, result.Err()
	}

	record := result.Record()
	return &domain.EntityMapping{
		EmailAccountID: accountID,
		Kind:           kind,
		SourceSystem:   sourceSystem,
		SourceKey:      sourceKey,
		TargetSystem:   getStringValue(record, "target_system"),
		TargetID:       getInt64Value(record, "target_id"),
	}, nil
}

// Put replaces whatever the source entity pointed at before.
func (s *MappingStore) Put(ctx context.Context, m *domain.EntityMapping) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.dbName})
	defer session.Close(ctx)

	query := `
		MERGE (e:SourceEntity {account_id: $accountID, kind: $kind, system: $system, key: $key})
		WITH e
		OPTIONAL MATCH (e)-[old:MAPS_TO]->()
		DELETE old
		WITH e
		MERGE (t:TargetEntity {account_id: $accountID, system: $targetSystem, id: $targetID})
		MERGE (e)-[r:MAPS_TO]->(t)
		SET r.updated_at = $updatedAt
	`
	_, err := session.Run(ctx, query, map[string]any{
		"accountID":    m.EmailAccountID,
		"kind":         string(m.Kind),
		"system":       m.SourceSystem,
		"key":          m.SourceKey,
		"targetSystem": m.TargetSystem,
		"targetID":     m.TargetID,
		"updatedAt":    time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to store mapping: %w", err)
	}
	return nil
}

func getStringValue(record *neo4j.Record, key string) string {
	if v, ok := record.Get(key); ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt64Value(record *neo4j.Record, key string) int64 {
	if v, ok := record.Get(key); ok && v != nil {
		if n, ok := v.(int64); ok {
			return n
		}
	}
	return 0
}
