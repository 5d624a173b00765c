package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/evidtrack/evidence-api/internal/models"
	appErrors "github.com/evidtrack/evidence-api/pkg/errors"
)

const fileColumns = `id, original_name, stored_name, path, mime_type, size_bytes, extension,
       content_hash, category, tags, description, uploader_id, group_id, visibility, status,
       created_at, deleted_at, view_count, download_count`

// Allowed sort columns for listing queries.
var fileSortColumns = map[string]string{
	"createdAt":     "created_at",
	"sizeBytes":     "size_bytes",
	"originalName":  "original_name",
	"viewCount":     "view_count",
	"downloadCount": "download_count",
}

// FileRepository handles file metadata persistence. It is also the content
// registry: hash uniqueness among active records is enforced by the partial
// unique index
//
//	CREATE UNIQUE INDEX files_content_hash_active_idx
//	    ON files (content_hash) WHERE deleted_at IS NULL;
//
// so a concurrent duplicate insert surfaces as a unique violation no matter
// what the application-level lookup saw.
type FileRepository struct {
	db *sqlx.DB
}

// NewFileRepository constructs the repository.
func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create inserts a new file record. A unique violation on the content hash
// index is reported as ErrHashCollision so callers can unwind stored bytes.
func (r *FileRepository) Create(ctx context.Context, record *models.FileRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = models.StatusReady
	}
	const query = `INSERT INTO files
	(id, original_name, stored_name, path, mime_type, size_bytes, extension, content_hash,
	 category, tags, description, uploader_id, group_id, visibility, status, created_at,
	 deleted_at, view_count, download_count)
	VALUES (:id, :original_name, :stored_name, :path, :mime_type, :size_bytes, :extension, :content_hash,
	 :category, :tags, :description, :uploader_id, :group_id, :visibility, :status, :created_at,
	 :deleted_at, :view_count, :download_count)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		if isUniqueViolation(err) {
			return appErrors.ErrHashCollision
		}
		return fmt.Errorf("create file record: %w", err)
	}
	return nil
}

// GetByID retrieves one file row regardless of status.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	var record models.FileRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetByStoredName retrieves an active file row by its stored filename.
func (r *FileRepository) GetByStoredName(ctx context.Context, storedName string) (*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE stored_name = $1 AND deleted_at IS NULL`
	var record models.FileRecord
	if err := r.db.GetContext(ctx, &record, query, storedName); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindActiveByHash is the registry lookup fast path. It returns nil without
// error when no active record carries the hash; the unique index remains the
// authoritative dedup mechanism.
func (r *FileRepository) FindActiveByHash(ctx context.Context, hash string) (*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE content_hash = $1 AND deleted_at IS NULL`
	var record models.FileRecord
	if err := r.db.GetContext(ctx, &record, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup file by hash: %w", err)
	}
	return &record, nil
}

// List returns active files applying filters, visibility scoping and
// pagination, plus the total count for the same conditions.
func (r *FileRepository) List(ctx context.Context, filter models.FileFilter) ([]models.FileRecord, int, error) {
	args := make([]interface{}, 0, 6)
	conditions := []string{"deleted_at IS NULL"}

	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		idx := len(args)
		conditions = append(conditions, fmt.Sprintf(
			`(uploader_id = $%d OR visibility = 'PUBLIC' OR group_id IN
			   (SELECT group_id FROM group_members WHERE user_id = $%d))`, idx, idx))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.GroupID != "" {
		args = append(args, filter.GroupID)
		conditions = append(conditions, fmt.Sprintf("group_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		idx := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(original_name) LIKE $%d OR LOWER(description) LIKE $%d OR LOWER(tags) LIKE $%d)", idx, idx, idx))
	}

	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM files"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}

	sortColumn, ok := fileSortColumns[filter.SortBy]
	if !ok {
		sortColumn = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}

	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	query := "SELECT " + fileColumns + " FROM files" + where +
		fmt.Sprintf(" ORDER BY %s %s LIMIT %d OFFSET %d", sortColumn, order, pageSize, (page-1)*pageSize)

	var records []models.FileRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}
	return records, total, nil
}

// ListAllForExport returns every active file the actor may see, unpaginated,
// newest first. actorID empty means admin scope.
func (r *FileRepository) ListAllForExport(ctx context.Context, actorID string) ([]models.FileRecord, error) {
	args := make([]interface{}, 0, 1)
	where := " WHERE deleted_at IS NULL"
	if actorID != "" {
		args = append(args, actorID)
		where += ` AND (uploader_id = $1 OR visibility = 'PUBLIC' OR group_id IN
		   (SELECT group_id FROM group_members WHERE user_id = $1))`
	}
	query := "SELECT " + fileColumns + " FROM files" + where + " ORDER BY created_at DESC"
	var records []models.FileRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list files for export: %w", err)
	}
	return records, nil
}

// Update persists the mutable metadata fields and returns the updated row.
func (r *FileRepository) Update(ctx context.Context, id string, update models.FileUpdate) (*models.FileRecord, error) {
	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)

	if update.Category != nil {
		args = append(args, *update.Category)
		sets = append(sets, fmt.Sprintf("category = $%d", len(args)))
	}
	if update.Tags != nil {
		args = append(args, *update.Tags)
		sets = append(sets, fmt.Sprintf("tags = $%d", len(args)))
	}
	if update.Description != nil {
		args = append(args, *update.Description)
		sets = append(sets, fmt.Sprintf("description = $%d", len(args)))
	}
	if update.Visibility != nil {
		args = append(args, *update.Visibility)
		sets = append(sets, fmt.Sprintf("visibility = $%d", len(args)))
	}
	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE files SET %s WHERE id = $%d AND deleted_at IS NULL RETURNING `+fileColumns,
		strings.Join(sets, ", "), len(args))

	var record models.FileRecord
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		return nil, err
	}
	return &record, nil
}

// SoftDelete marks a file as deleted. The row leaves the partial hash index,
// so re-uploading identical bytes afterwards creates a fresh record.
func (r *FileRepository) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	const query = `UPDATE files SET deleted_at = $2, status = $3 WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, deletedAt, models.StatusSoftDeleted)
	if err != nil {
		return fmt.Errorf("soft delete file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check file delete rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// HardDelete removes a row entirely. Only used to unwind records created
// earlier in a failed batch upload; committed records are soft deleted.
func (r *FileRepository) HardDelete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("hard delete file: %w", err)
	}
	return nil
}

// ExistsByStoredName reports whether any record, soft-deleted included,
// references the stored filename. Soft-deleted rows keep their bytes, so the
// orphan sweep must not treat them as orphans.
func (r *FileRepository) ExistsByStoredName(ctx context.Context, storedName string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS (SELECT 1 FROM files WHERE stored_name = $1)`
	if err := r.db.GetContext(ctx, &exists, query, storedName); err != nil {
		return false, fmt.Errorf("check stored name: %w", err)
	}
	return exists, nil
}

// Stats aggregates totals over active files, scoped to the actor unless
// actorID is empty (admin).
func (r *FileRepository) Stats(ctx context.Context, actorID string) (*models.FileStats, error) {
	args := make([]interface{}, 0, 1)
	where := " WHERE deleted_at IS NULL"
	if actorID != "" {
		args = append(args, actorID)
		where += ` AND (uploader_id = $1 OR visibility = 'PUBLIC' OR group_id IN
		   (SELECT group_id FROM group_members WHERE user_id = $1))`
	}

	var totals struct {
		Count  int64 `db:"count"`
		Size   int64 `db:"size"`
		Recent int64 `db:"recent"`
	}
	totalsQuery := `SELECT COUNT(*) AS count, COALESCE(SUM(size_bytes), 0) AS size,
	       COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '7 days') AS recent
	FROM files` + where
	if err := r.db.GetContext(ctx, &totals, totalsQuery, args...); err != nil {
		return nil, fmt.Errorf("aggregate file stats: %w", err)
	}

	type categoryRow struct {
		Category models.FileCategory `db:"category"`
		Count    int64               `db:"count"`
	}
	var rows []categoryRow
	categoryQuery := `SELECT category, COUNT(*) AS count FROM files` + where + ` GROUP BY category`
	if err := r.db.SelectContext(ctx, &rows, categoryQuery, args...); err != nil {
		return nil, fmt.Errorf("aggregate file categories: %w", err)
	}

	byCategory := make(map[models.FileCategory]int64, len(rows))
	for _, row := range rows {
		byCategory[row.Category] = row.Count
	}

	return &models.FileStats{
		TotalFiles:     totals.Count,
		TotalSizeBytes: totals.Size,
		ByCategory:     byCategory,
		RecentFiles:    totals.Recent,
	}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
