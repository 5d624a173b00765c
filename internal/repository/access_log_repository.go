package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/evidtrack/evidence-api/internal/models"
)

// AccessLogRepository appends access log entries and maintains the
// per-file view/download counters.
type AccessLogRepository struct {
	db *sqlx.DB
}

// NewAccessLogRepository constructs the repository.
func NewAccessLogRepository(db *sqlx.DB) *AccessLogRepository {
	return &AccessLogRepository{db: db}
}

// Record appends an entry and bumps the matching counter in one transaction.
// The increment is a storage-level read-modify-write (`n = n + 1`), so counts
// stay exact under concurrent access; losing an update would require losing
// the whole transaction.
func (r *AccessLogRepository) Record(ctx context.Context, entry *models.AccessLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	counterColumn := "view_count"
	if entry.Action == models.AccessActionDownload {
		counterColumn = "download_count"
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin access log tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `INSERT INTO file_access_logs (id, file_id, user_id, action, source_ip, user_agent, created_at)
	VALUES (:id, :file_id, :user_id, :action, :source_ip, :user_agent, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, entry); err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}

	increment := fmt.Sprintf(`UPDATE files SET %s = %s + 1 WHERE id = $1`, counterColumn, counterColumn)
	if _, err := tx.ExecContext(ctx, increment, entry.FileID); err != nil {
		return fmt.Errorf("increment %s: %w", counterColumn, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit access log tx: %w", err)
	}
	return nil
}

// ListByFile returns entries for one file, newest first.
func (r *AccessLogRepository) ListByFile(ctx context.Context, fileID string, limit int) ([]models.AccessLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT id, file_id, user_id, action, source_ip, user_agent, created_at
	FROM file_access_logs WHERE file_id = $1 ORDER BY created_at DESC LIMIT %d`, limit)
	var entries []models.AccessLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, fileID); err != nil {
		return nil, fmt.Errorf("list access logs: %w", err)
	}
	return entries, nil
}
