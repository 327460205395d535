package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/lokalert/apkdist/internal/audit"
)

// AuditRepository appends and lists immutable audit records.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(dbConn *sql.DB) *AuditRepository {
	return &AuditRepository{db: dbConn}
}

func (r *AuditRepository) Append(ctx context.Context, rec audit.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor, action, subject_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Actor, rec.Action, rec.SubjectID, rec.Detail, rec.Timestamp.UTC().Format(timeLayout))

	return err
}

// Recent returns the newest records, newest first.
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]audit.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT actor, action, subject_id, detail, created_at
		FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []audit.Record

	for rows.Next() {
		var (
			rec       audit.Record
			actor     sql.NullString
			detail    sql.NullString
			createdAt string
		)

		if err := rows.Scan(&actor, &rec.Action, &rec.SubjectID, &detail, &createdAt); err != nil {
			return nil, err
		}

		rec.Actor = actor.String
		rec.Detail = detail.String

		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			rec.Timestamp = t
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
