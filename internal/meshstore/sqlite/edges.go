package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jtstockton/meshresolver/internal/meshgraph"
)

const timeLayout = time.RFC3339Nano

const edgeExistsSQL = `SELECT 1 FROM mesh_connections WHERE from_prefix=? AND to_prefix=?`

const insertEdgeSQL = `
	INSERT INTO mesh_connections
		(from_prefix, to_prefix, from_public_key, to_public_key,
		 observation_count, first_seen, last_seen, avg_hop_position, geographic_distance)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// updateEdgeSQL serves both the single-edge write and the batch flush: a
// non-null key overwrites the stored one, a null key preserves whatever
// was learned earlier.
const updateEdgeSQL = `
	UPDATE mesh_connections
	SET observation_count=?, last_seen=?, avg_hop_position=?, geographic_distance=?,
	    from_public_key = CASE WHEN ? IS NOT NULL THEN ? ELSE from_public_key END,
	    to_public_key   = CASE WHEN ? IS NOT NULL THEN ? ELSE to_public_key END
	WHERE from_prefix=? AND to_prefix=?
`

const selectEdgesSQL = `
	SELECT from_prefix, to_prefix, from_public_key, to_public_key,
	       observation_count, first_seen, last_seen, avg_hop_position, geographic_distance
	FROM mesh_connections
`

func insertParams(e *meshgraph.Edge) []interface{} {
	return []interface{}{
		e.FromPrefix, e.ToPrefix,
		nullString(e.FromPublicKey), nullString(e.ToPublicKey),
		e.ObservationCount, e.FirstSeen.Format(timeLayout), e.LastSeen.Format(timeLayout),
		nullFloat(e.AvgHopPosition), nullFloat(e.GeographicDistance),
	}
}

func updateParams(e *meshgraph.Edge) []interface{} {
	return []interface{}{
		e.ObservationCount, e.LastSeen.Format(timeLayout),
		nullFloat(e.AvgHopPosition), nullFloat(e.GeographicDistance),
		nullString(e.FromPublicKey), nullString(e.FromPublicKey),
		nullString(e.ToPublicKey), nullString(e.ToPublicKey),
		e.FromPrefix, e.ToPrefix,
	}
}

// UpsertEdge implements meshgraph.Store for a single edge write, using
// the statements prepared at open.
func (s *Store) UpsertEdge(ctx context.Context, e *meshgraph.Edge) error {
	var exists int
	err := s.existsStmt.QueryRowContext(ctx, e.FromPrefix, e.ToPrefix).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.insertStmt.ExecContext(ctx, insertParams(e)...); err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("check edge existence: %w", err)
	}

	if _, err := s.updateStmt.ExecContext(ctx, updateParams(e)...); err != nil {
		return fmt.Errorf("update edge: %w", err)
	}
	return nil
}

// LoadEdges implements meshgraph.Store's startup rehydration query,
// optionally filtered to edges last seen on or after since. Most recent
// edges come first, matching the order observations age out.
func (s *Store) LoadEdges(ctx context.Context, since time.Time) ([]*meshgraph.Edge, error) {
	query := selectEdgesSQL
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE last_seen >= ?`
		args = append(args, since.Format(timeLayout))
	}
	query += ` ORDER BY last_seen DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mesh_connections: %w", err)
	}
	defer rows.Close()

	var edges []*meshgraph.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// FlushBatch implements meshgraph.Store's atomic batch flush: one
// transaction, one commit, rollback on error. The same insert/update
// statements run inside the transaction as outside it.
func (s *Store) FlushBatch(ctx context.Context, edges []*meshgraph.Edge) error {
	if len(edges) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range edges {
		if err := upsertEdgeTx(ctx, tx, e); err != nil {
			return fmt.Errorf("flush edge %s->%s: %w", e.FromPrefix, e.ToPrefix, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush transaction: %w", err)
	}
	return nil
}

func upsertEdgeTx(ctx context.Context, tx *sql.Tx, e *meshgraph.Edge) error {
	var exists int
	err := tx.QueryRowContext(ctx, edgeExistsSQL, e.FromPrefix, e.ToPrefix).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, insertEdgeSQL, insertParams(e)...); err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("check edge existence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, updateEdgeSQL, updateParams(e)...); err != nil {
		return fmt.Errorf("update edge: %w", err)
	}
	return nil
}

func scanEdge(rows *sql.Rows) (*meshgraph.Edge, error) {
	var (
		e                   meshgraph.Edge
		fromKey, toKey      sql.NullString
		firstSeen, lastSeen string
		avgHop, geoDist     sql.NullFloat64
	)
	if err := rows.Scan(
		&e.FromPrefix, &e.ToPrefix, &fromKey, &toKey,
		&e.ObservationCount, &firstSeen, &lastSeen, &avgHop, &geoDist,
	); err != nil {
		return nil, err
	}

	e.FromPublicKey = fromKey.String
	e.ToPublicKey = toKey.String
	if avgHop.Valid {
		v := avgHop.Float64
		e.AvgHopPosition = &v
	}
	if geoDist.Valid {
		v := geoDist.Float64
		e.GeographicDistance = &v
	}

	var err error
	if e.FirstSeen, err = time.Parse(timeLayout, firstSeen); err != nil {
		return nil, fmt.Errorf("parse first_seen: %w", err)
	}
	if e.LastSeen, err = time.Parse(timeLayout, lastSeen); err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	return &e, nil
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

var _ meshgraph.Store = (*Store)(nil)
