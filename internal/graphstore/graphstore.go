// Package graphstore records the behavior graph in Neo4j — who touched what
// — so the content-side threshold (§4.5, T_content distinct touchers) can be
// answered with a graph query instead of scanning the behavior log. Batching
// and session style are grounded on the teacher's
// internal/services/user_interaction.go neo4jBatchWorker/Neo4jRelationship
// pattern, generalized from UUID user/item ids to int64 and from arbitrary
// interaction types to the fixed §3 Action set.
package graphstore

import (
	"context"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/pkg/models"
)

// Touch is one user-touched-content fact queued for a batched MERGE.
type Touch struct {
	UserID    int64
	ContentID int64
	Action    models.Action
	Timestamp time.Time
}

const (
	batchFlushSize     = 100
	batchFlushInterval = 30 * time.Second
)

// Store batches behavior touches into Neo4j writes the way the teacher's
// neo4jBatchWorker batches Neo4jRelationship values.
type Store struct {
	driver neo4j.DriverWithContext
	logger *logrus.Logger

	queue    chan Touch
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(driver neo4j.DriverWithContext, logger *logrus.Logger) *Store {
	s := &Store{
		driver:   driver,
		logger:   logger,
		queue:    make(chan Touch, 1000),
		stopChan: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.batchWorker()
	return s
}

// RecordTouch enqueues a touch for batched persistence, dropping it with a
// warning if the queue is full rather than blocking the caller (§4.7
// worker-pool backpressure style).
func (s *Store) RecordTouch(t Touch) {
	select {
	case s.queue <- t:
	default:
		s.logger.WithField("user_id", t.UserID).Warn("graph touch queue full, dropping update")
	}
}

func (s *Store) batchWorker() {
	defer s.wg.Done()

	var batch []Touch
	ticker := time.NewTicker(batchFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case t := <-s.queue:
			batch = append(batch, t)
			if len(batch) >= batchFlushSize {
				s.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = nil
			}
		case <-s.stopChan:
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *Store) flush(batch []Touch) {
	ctx := context.Background()
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	const cypher = `
		UNWIND $touches AS t
		MERGE (u:User {id: t.user_id})
		MERGE (c:Content {id: t.content_id})
		MERGE (u)-[r:TOUCHED]->(c)
		SET r.last_action = t.action, r.last_touched = t.timestamp`

	touches := make([]map[string]interface{}, len(batch))
	for i, t := range batch {
		touches[i] = map[string]interface{}{
			"user_id":    t.UserID,
			"content_id": t.ContentID,
			"action":     string(t.Action),
			"timestamp":  t.Timestamp.Unix(),
		}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]interface{}{"touches": touches})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		s.logger.WithError(err).WithField("batch_size", len(batch)).Error("failed to flush graph touch batch")
	} else {
		s.logger.WithField("batch_size", len(batch)).Debug("flushed graph touch batch")
	}
}

// DistinctTouchers returns the number of distinct users who have touched a
// content item — the §4.5 T_content watermark input.
func (s *Store) DistinctTouchers(ctx context.Context, contentID int64) (int64, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	const cypher = `
		MATCH (u:User)-[:TOUCHED]->(c:Content {id: $content_id})
		RETURN count(DISTINCT u) AS toucher_count`

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, cypher, map[string]interface{}{"content_id": contentID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return int64(0), nil
		}
		count, _ := record.Get("toucher_count")
		if c, ok := count.(int64); ok {
			return c, nil
		}
		return int64(0), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// DistinctOperatedContent returns the total number of distinct content items
// a user has touched (no time window is applied) — one candidate input for the
// §4.5 T_user re-derivation decision when operating on graph data instead of
// the behavior log directly.
func (s *Store) DistinctOperatedContent(ctx context.Context, userID int64) (int64, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	const cypher = `
		MATCH (u:User {id: $user_id})-[:TOUCHED]->(c:Content)
		RETURN count(DISTINCT c) AS content_count`

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, cypher, map[string]interface{}{"user_id": userID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return int64(0), nil
		}
		count, _ := record.Get("content_count")
		if c, ok := count.(int64); ok {
			return c, nil
		}
		return int64(0), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Close drains the pending batch and stops the background worker.
func (s *Store) Close() {
	close(s.stopChan)
	s.wg.Wait()
}
