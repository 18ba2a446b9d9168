package sqlite

import (
	"context"
	"time"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
)

type auditRepo struct {
	db dbtx
}

func (r *auditRepo) InsertEvent(ctx context.Context, e domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, user_id, username, event, reason, ip_address, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Username, e.Event, e.Reason, e.IPAddress, e.UserAgent, e.CreatedAt,
	)
	return err
}

func (r *auditRepo) ListEventsByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, username, event, reason, ip_address, user_agent, created_at
		 FROM audit_events WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Event, &e.Reason,
			&e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *auditRepo) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
