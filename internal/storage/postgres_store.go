package storage

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/bottle-collector/internal/models"
)

const schema = `CREATE TABLE IF NOT EXISTS pickups (
	session_id    TEXT PRIMARY KEY,
	collector_id  TEXT NOT NULL DEFAULT '',
	pin_id        TEXT NOT NULL,
	submission_id TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL,
	depot_id      TEXT NOT NULL DEFAULT '',
	claimed_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ
)`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates the pickups table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresStore) SavePickup(ctx context.Context, r models.PickupRecord) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO pickups(session_id, collector_id, pin_id, submission_id, state, depot_id, claimed_at, finished_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (session_id) DO UPDATE SET pin_id=EXCLUDED.pin_id, submission_id=EXCLUDED.submission_id,
			state=EXCLUDED.state, depot_id=EXCLUDED.depot_id, claimed_at=EXCLUDED.claimed_at, finished_at=EXCLUDED.finished_at`,
		r.SessionID, r.CollectorID, r.PinID, r.SubmissionID, r.State, r.DepotID, r.ClaimedAt, r.FinishedAt)
	return err
}

func (p *PostgresStore) UpdatePickup(ctx context.Context, r models.PickupRecord) error {
	res, err := p.db.ExecContext(ctx, `UPDATE pickups SET state=$1, depot_id=$2, finished_at=$3 WHERE session_id=$4`,
		r.State, r.DepotID, r.FinishedAt, r.SessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetPickup(ctx context.Context, sessionID string) (models.PickupRecord, error) {
	var r models.PickupRecord
	var finished sql.NullTime
	err := p.db.QueryRowContext(ctx, `SELECT session_id, collector_id, pin_id, submission_id, state, depot_id, claimed_at, finished_at
		FROM pickups WHERE session_id=$1`, sessionID).
		Scan(&r.SessionID, &r.CollectorID, &r.PinID, &r.SubmissionID, &r.State, &r.DepotID, &r.ClaimedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PickupRecord{}, ErrNotFound
	}
	if err != nil {
		return models.PickupRecord{}, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }
