package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/evidtrack/evidence-api/internal/models"
	appErrors "github.com/evidtrack/evidence-api/pkg/errors"
)

func newFileRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func fileRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "original_name", "stored_name", "path", "mime_type", "size_bytes", "extension",
		"content_hash", "category", "tags", "description", "uploader_id", "group_id", "visibility",
		"status", "created_at", "deleted_at", "view_count", "download_count",
	})
}

func TestFileRepositoryCreateHashCollision(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectExec("INSERT INTO files").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "files_content_hash_active_idx"})

	err := repo.Create(context.Background(), &models.FileRecord{
		OriginalName: "doc.pdf",
		StoredName:   "other_123.pdf",
		ContentHash:  "abc",
		UploaderID:   "user-1",
		Category:     models.CategoryOther,
		Visibility:   models.VisibilityPrivate,
	})
	require.ErrorIs(t, err, appErrors.ErrHashCollision)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryCreateAssignsDefaults(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectExec("INSERT INTO files").WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.FileRecord{
		OriginalName: "doc.pdf",
		StoredName:   "other_123.pdf",
		ContentHash:  "abc",
		UploaderID:   "user-1",
		Category:     models.CategoryOther,
		Visibility:   models.VisibilityPrivate,
	}
	require.NoError(t, repo.Create(context.Background(), record))
	require.NotEmpty(t, record.ID)
	require.False(t, record.CreatedAt.IsZero())
	require.Equal(t, models.StatusReady, record.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryFindActiveByHashMiss(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM files WHERE content_hash").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	record, err := repo.FindActiveByHash(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, record)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryFindActiveByHashHit(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	rows := fileRows().AddRow(
		"file-1", "doc.pdf", "other_1.pdf", "other_1.pdf", "application/pdf", 11, ".pdf",
		"abc", "OTHER", "", "", "user-1", nil, "PRIVATE",
		"READY", time.Now(), nil, 0, 0,
	)
	mock.ExpectQuery("SELECT (.+) FROM files WHERE content_hash").
		WithArgs("abc").
		WillReturnRows(rows)

	record, err := repo.FindActiveByHash(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "file-1", record.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositorySoftDeleteMissing(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectExec("UPDATE files SET deleted_at").
		WithArgs("file-x", sqlmock.AnyArg(), models.StatusSoftDeleted).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SoftDelete(context.Background(), "file-x", time.Now())
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryList(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1", models.CategoryEvidence).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := fileRows().AddRow(
		"file-1", "doc.pdf", "evidence_1.pdf", "evidence_1.pdf", "application/pdf", 11, ".pdf",
		"abc", "EVIDENCE", "scene,night", "desc", "user-1", nil, "PRIVATE",
		"READY", time.Now(), nil, 3, 1,
	)
	mock.ExpectQuery("SELECT (.+) FROM files WHERE deleted_at IS NULL").
		WithArgs("user-1", models.CategoryEvidence).
		WillReturnRows(rows)

	records, total, err := repo.List(context.Background(), models.FileFilter{
		ActorID:  "user-1",
		Category: models.CategoryEvidence,
		Page:     1,
		PageSize: 20,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, records, 1)
	require.Equal(t, models.TagSet{"night", "scene"}, records[0].Tags)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryUpdateNoFields(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	rows := fileRows().AddRow(
		"file-1", "doc.pdf", "other_1.pdf", "other_1.pdf", "application/pdf", 11, ".pdf",
		"abc", "OTHER", "", "", "user-1", nil, "PRIVATE",
		"READY", time.Now(), nil, 0, 0,
	)
	mock.ExpectQuery("SELECT (.+) FROM files WHERE id").
		WithArgs("file-1").
		WillReturnRows(rows)

	record, err := repo.Update(context.Background(), "file-1", models.FileUpdate{})
	require.NoError(t, err)
	require.Equal(t, "file-1", record.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryExistsByStoredName(t *testing.T) {
	db, mock, cleanup := newFileRepoMock(t)
	defer cleanup()
	repo := NewFileRepository(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("evidence_1.pdf").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsByStoredName(context.Background(), "evidence_1.pdf")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
