package gormstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jtstockton/meshresolver/internal/meshgraph"
)

const timeLayout = time.RFC3339Nano

// UpsertEdge implements meshgraph.Store via GORM's upsert clause, applying
// the same "non-null key overwrites, null key preserves" contract as the
// sqlite backend.
func (s *Store) UpsertEdge(ctx context.Context, e *meshgraph.Edge) error {
	return s.upsertEdge(ctx, s.DB.WithContext(ctx), e)
}

func (s *Store) upsertEdge(ctx context.Context, tx *gorm.DB, e *meshgraph.Edge) error {
	row := toRow(e)

	assignments := map[string]interface{}{
		"observation_count":   row.ObservationCount,
		"last_seen":           row.LastSeen,
		"avg_hop_position":    row.AvgHopPosition,
		"geographic_distance": row.GeographicDistance,
	}
	if row.FromPublicKey != nil {
		assignments["from_public_key"] = *row.FromPublicKey
	}
	if row.ToPublicKey != nil {
		assignments["to_public_key"] = *row.ToPublicKey
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "from_prefix"}, {Name: "to_prefix"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert mesh_connections row: %w", err)
	}
	return nil
}

// LoadEdges implements meshgraph.Store's startup rehydration query.
func (s *Store) LoadEdges(ctx context.Context, since time.Time) ([]*meshgraph.Edge, error) {
	q := s.DB.WithContext(ctx).Model(&meshConnection{})
	if !since.IsZero() {
		q = q.Where("last_seen >= ?", since.Format(timeLayout))
	}

	var rows []meshConnection
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query mesh_connections: %w", err)
	}

	edges := make([]*meshgraph.Edge, 0, len(rows))
	for _, r := range rows {
		e, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// FlushBatch implements meshgraph.Store's atomic batch flush: one
// connection, one commit, rollback on error.
func (s *Store) FlushBatch(ctx context.Context, edges []*meshgraph.Edge) error {
	if len(edges) == 0 {
		return nil
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range edges {
			if err := s.upsertEdge(ctx, tx, e); err != nil {
				return fmt.Errorf("flush edge %s->%s: %w", e.FromPrefix, e.ToPrefix, err)
			}
		}
		return nil
	})
}

func toRow(e *meshgraph.Edge) meshConnection {
	row := meshConnection{
		FromPrefix:         e.FromPrefix,
		ToPrefix:           e.ToPrefix,
		ObservationCount:   e.ObservationCount,
		FirstSeen:          e.FirstSeen.Format(timeLayout),
		LastSeen:           e.LastSeen.Format(timeLayout),
		AvgHopPosition:     e.AvgHopPosition,
		GeographicDistance: e.GeographicDistance,
	}
	if e.FromPublicKey != "" {
		row.FromPublicKey = &e.FromPublicKey
	}
	if e.ToPublicKey != "" {
		row.ToPublicKey = &e.ToPublicKey
	}
	return row
}

func fromRow(r meshConnection) (*meshgraph.Edge, error) {
	e := &meshgraph.Edge{
		FromPrefix:         r.FromPrefix,
		ToPrefix:           r.ToPrefix,
		ObservationCount:   r.ObservationCount,
		AvgHopPosition:     r.AvgHopPosition,
		GeographicDistance: r.GeographicDistance,
	}
	if r.FromPublicKey != nil {
		e.FromPublicKey = *r.FromPublicKey
	}
	if r.ToPublicKey != nil {
		e.ToPublicKey = *r.ToPublicKey
	}

	var err error
	if e.FirstSeen, err = time.Parse(timeLayout, r.FirstSeen); err != nil {
		return nil, fmt.Errorf("parse first_seen: %w", err)
	}
	if e.LastSeen, err = time.Parse(timeLayout, r.LastSeen); err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	return e, nil
}

var _ meshgraph.Store = (*Store)(nil)
