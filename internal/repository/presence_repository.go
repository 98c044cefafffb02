package repository

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
)

// PresenceRepo stores the append-only presence transition log. Rows are
// never updated or deleted by the application.
type PresenceRepo struct {
	db  *sql.DB
	log *zap.Logger
}

func NewPresenceRepo(db *sql.DB, log *zap.Logger) *PresenceRepo {
	return &PresenceRepo{db: db, log: log}
}

// Append writes the events of one tick in a single transaction and fills
// in their Seq from the auto-increment id, which is the insertion order.
func (r *PresenceRepo) Append(ctx context.Context, events []model.PresenceEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for i := range events {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO presence_events (resident_id, status, at) VALUES (?, ?, ?)`,
			events[i].ResidentID, events[i].Status.String(), events[i].At.UTC())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		events[i].Seq = uint64(id)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Range returns a resident's events with from <= at < to ordered by
// timestamp, then insertion order.
func (r *PresenceRepo) Range(ctx context.Context, residentID uint64, from, to time.Time) ([]model.PresenceEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, resident_id, status, at FROM presence_events
		 WHERE resident_id = ? AND at >= ? AND at < ?
		 ORDER BY at, id`, residentID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// Latest returns the most recent event of every resident that has one.
func (r *PresenceRepo) Latest(ctx context.Context) ([]model.PresenceEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.resident_id, e.status, e.at FROM presence_events e
		 JOIN (SELECT resident_id, MAX(id) AS id FROM presence_events GROUP BY resident_id) last
		   ON last.id = e.id
		 ORDER BY e.resident_id`)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]model.PresenceEvent, error) {
	defer rows.Close()
	var out []model.PresenceEvent
	for rows.Next() {
		var (
			ev     model.PresenceEvent
			status string
		)
		if err := rows.Scan(&ev.Seq, &ev.ResidentID, &status, &ev.At); err != nil {
			return nil, err
		}
		ev.Status = model.ParsePresenceStatus(status)
		ev.At = ev.At.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
