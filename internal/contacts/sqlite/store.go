// Package sqlite is a reference implementation of contacts.Store: a
// read-mostly database/sql table answering the resolver's three query shapes.
// It is explicitly not "the" contact store — any integrator's existing
// contacts table can back contacts.Store instead, as long as it can answer
// the same three queries.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jtstockton/meshresolver/internal/contacts"
)

// Store is a read-mostly sqlite-backed contacts.Store.
type Store struct {
	db *sql.DB
}

// Open connects to (and, if needed, creates) the contacts table at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open contacts database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping contacts database: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS contacts (
			public_key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			latitude REAL NOT NULL DEFAULT 0,
			longitude REAL NOT NULL DEFAULT 0,
			city TEXT,
			state TEXT,
			country TEXT,
			last_heard TEXT,
			last_advert_timestamp TEXT,
			advert_count INTEGER NOT NULL DEFAULT 0,
			signal_strength REAL,
			snr REAL,
			hop_count INTEGER,
			is_starred INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_contacts_prefix ON contacts(substr(public_key, 1, 2));
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure contacts schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ByPrefix implements contacts.Store's prefix/recency query.
func (s *Store) ByPrefix(ctx context.Context, prefix string, maxAgeDays int) ([]contacts.Record, error) {
	query := `
		SELECT public_key, name, role, latitude, longitude, city, state, country,
		       last_heard, last_advert_timestamp, advert_count, signal_strength, snr,
		       hop_count, is_starred, is_active
		FROM contacts
		WHERE public_key LIKE ?
		  AND role IN ('repeater', 'roomserver')
	`
	args := []interface{}{prefix + "%"}

	if maxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -maxAgeDays).Format(time.RFC3339)
		query += `
		  AND (
		       (last_advert_timestamp IS NOT NULL AND last_advert_timestamp >= ?)
		    OR (last_advert_timestamp IS NULL     AND last_heard            >= ?)
		  )
		`
		args = append(args, cutoff, cutoff)
	}
	query += ` ORDER BY COALESCE(last_advert_timestamp, last_heard) DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts by prefix: %w", err)
	}
	defer rows.Close()

	var out []contacts.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ByPublicKey implements contacts.Store's full-key lookup.
func (s *Store) ByPublicKey(ctx context.Context, publicKey string) (contacts.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT public_key, name, role, latitude, longitude, city, state, country,
		       last_heard, last_advert_timestamp, advert_count, signal_strength, snr,
		       hop_count, is_starred, is_active
		FROM contacts WHERE public_key = ?
	`, publicKey)

	r, err := scanRecordRow(row)
	if err == sql.ErrNoRows {
		return contacts.Record{}, false, nil
	}
	if err != nil {
		return contacts.Record{}, false, fmt.Errorf("query contacts by public key: %w", err)
	}
	return r, true, nil
}

// BestCoordinates implements contacts.Store's coordinate lookup: starred
// candidates outrank the rest, then, when ref is supplied, shorter
// distance to it wins, then the most recent.
func (s *Store) BestCoordinates(ctx context.Context, prefix string, ref *contacts.LatLon) (contacts.LatLon, bool, error) {
	candidates, err := s.ByPrefix(ctx, prefix, 0)
	if err != nil {
		return contacts.LatLon{}, false, err
	}

	var best *contacts.Record
	for i := range candidates {
		c := &candidates[i]
		if !c.HasCoordinates() {
			continue
		}
		if best == nil || contacts.BetterCoordinateSource(*c, *best, ref) {
			best = c
		}
	}
	if best == nil {
		return contacts.LatLon{}, false, nil
	}
	return contacts.LatLon{Lat: best.Latitude, Lon: best.Longitude}, true, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(rows *sql.Rows) (contacts.Record, error) {
	return scanAny(rows)
}

func scanRecordRow(row *sql.Row) (contacts.Record, error) {
	return scanAny(row)
}

func scanAny(s scannable) (contacts.Record, error) {
	var (
		r                      contacts.Record
		city, state, country   sql.NullString
		lastHeard, lastAdvert  sql.NullString
		signalStrength, snr    sql.NullFloat64
		hopCount               sql.NullInt64
		isStarred, isActive    int
	)

	if err := s.Scan(
		&r.PublicKey, &r.Name, &r.Role, &r.Latitude, &r.Longitude,
		&city, &state, &country,
		&lastHeard, &lastAdvert, &r.AdvertCount, &signalStrength, &snr,
		&hopCount, &isStarred, &isActive,
	); err != nil {
		return contacts.Record{}, err
	}

	r.City, r.State, r.Country = city.String, state.String, country.String
	r.IsStarred = isStarred != 0
	r.IsActive = isActive != 0

	if lastHeard.Valid {
		if t, err := time.Parse(time.RFC3339, lastHeard.String); err == nil {
			r.LastHeard = &t
		}
	}
	if lastAdvert.Valid {
		if t, err := time.Parse(time.RFC3339, lastAdvert.String); err == nil {
			r.LastAdvertTimestamp = &t
		}
	}
	if signalStrength.Valid {
		v := signalStrength.Float64
		r.SignalStrength = &v
	}
	if snr.Valid {
		v := snr.Float64
		r.SNR = &v
	}
	if hopCount.Valid {
		v := int(hopCount.Int64)
		r.HopCount = &v
	}

	return r, nil
}

var _ contacts.Store = (*Store)(nil)
