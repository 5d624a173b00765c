package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evidtrack/evidence-api/internal/dto"
	"github.com/evidtrack/evidence-api/internal/models"
	appErrors "github.com/evidtrack/evidence-api/pkg/errors"
	"github.com/evidtrack/evidence-api/pkg/storage"
)

type fileRepoStub struct {
	records map[string]*models.FileRecord
	seq     int
}

func newFileRepoStub() *fileRepoStub {
	return &fileRepoStub{records: make(map[string]*models.FileRecord)}
}

func (r *fileRepoStub) Create(ctx context.Context, record *models.FileRecord) error {
	for _, existing := range r.records {
		if existing.DeletedAt == nil && existing.ContentHash == record.ContentHash {
			return appErrors.ErrHashCollision
		}
	}
	r.seq++
	if record.ID == "" {
		record.ID = fmt.Sprintf("file-%d", r.seq)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	copied := *record
	r.records[record.ID] = &copied
	return nil
}

func (r *fileRepoStub) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	if record, ok := r.records[id]; ok {
		copied := *record
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (r *fileRepoStub) GetByStoredName(ctx context.Context, storedName string) (*models.FileRecord, error) {
	for _, record := range r.records {
		if record.StoredName == storedName && record.DeletedAt == nil {
			copied := *record
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fileRepoStub) FindActiveByHash(ctx context.Context, hash string) (*models.FileRecord, error) {
	for _, record := range r.records {
		if record.ContentHash == hash && record.DeletedAt == nil {
			copied := *record
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fileRepoStub) List(ctx context.Context, filter models.FileFilter) ([]models.FileRecord, int, error) {
	result := make([]models.FileRecord, 0, len(r.records))
	for _, record := range r.records {
		if record.DeletedAt == nil {
			result = append(result, *record)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, len(result), nil
}

func (r *fileRepoStub) Update(ctx context.Context, id string, update models.FileUpdate) (*models.FileRecord, error) {
	record, ok := r.records[id]
	if !ok || record.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	if update.Category != nil {
		record.Category = *update.Category
	}
	if update.Tags != nil {
		record.Tags = *update.Tags
	}
	if update.Description != nil {
		record.Description = *update.Description
	}
	if update.Visibility != nil {
		record.Visibility = *update.Visibility
	}
	copied := *record
	return &copied, nil
}

func (r *fileRepoStub) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	record, ok := r.records[id]
	if !ok || record.DeletedAt != nil {
		return sql.ErrNoRows
	}
	record.DeletedAt = &deletedAt
	record.Status = models.StatusSoftDeleted
	return nil
}

func (r *fileRepoStub) HardDelete(ctx context.Context, id string) error {
	delete(r.records, id)
	return nil
}

func (r *fileRepoStub) ExistsByStoredName(ctx context.Context, storedName string) (bool, error) {
	for _, record := range r.records {
		if record.StoredName == storedName {
			return true, nil
		}
	}
	return false, nil
}

func (r *fileRepoStub) Stats(ctx context.Context, actorID string) (*models.FileStats, error) {
	stats := &models.FileStats{ByCategory: make(map[models.FileCategory]int64)}
	for _, record := range r.records {
		if record.DeletedAt != nil {
			continue
		}
		stats.TotalFiles++
		stats.TotalSizeBytes += record.SizeBytes
		stats.ByCategory[record.Category]++
	}
	return stats, nil
}

type groupStub struct {
	groups  map[string]*models.Group
	members map[string]*models.GroupMember
	counts  map[string]int
}

func newGroupStub() *groupStub {
	return &groupStub{
		groups:  make(map[string]*models.Group),
		members: make(map[string]*models.GroupMember),
		counts:  make(map[string]int),
	}
}

func (g *groupStub) addMember(member models.GroupMember) {
	g.groups[member.GroupID] = &models.Group{ID: member.GroupID, Name: member.GroupID}
	g.members[member.GroupID+"|"+member.UserID] = &member
}

func (g *groupStub) GetByID(ctx context.Context, id string) (*models.Group, error) {
	if group, ok := g.groups[id]; ok {
		copied := *group
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (g *groupStub) GetMember(ctx context.Context, groupID, userID string) (*models.GroupMember, error) {
	if member, ok := g.members[groupID+"|"+userID]; ok {
		copied := *member
		return &copied, nil
	}
	return nil, nil
}

func (g *groupStub) IncrementFileCount(ctx context.Context, groupID string, delta int) error {
	g.counts[groupID] += delta
	return nil
}

type accessStub struct {
	entries []models.AccessLogEntry
	fail    bool
}

func (a *accessStub) Record(ctx context.Context, entry *models.AccessLogEntry) error {
	if a.fail {
		return errors.New("access log unavailable")
	}
	a.entries = append(a.entries, *entry)
	return nil
}

func (a *accessStub) ListByFile(ctx context.Context, fileID string, limit int) ([]models.AccessLogEntry, error) {
	result := make([]models.AccessLogEntry, 0)
	for _, entry := range a.entries {
		if entry.FileID == fileID {
			result = append(result, entry)
		}
	}
	return result, nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newTestFileService(t *testing.T, cfg FileServiceConfig) (*FileService, *fileRepoStub, *groupStub, *accessStub, *auditStub, *storage.LocalStorage) {
	t.Helper()
	repo := newFileRepoStub()
	groups := newGroupStub()
	access := &accessStub{}
	audit := &auditStub{}
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Minute)
	svc := NewFileService(repo, groups, access, store, signer, nil, audit, nil, cfg)
	return svc, repo, groups, access, audit, store
}

func uploaderClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", Role: models.RoleUser}
}

func pdfUpload(name, content string) FileUpload {
	return FileUpload{
		Filename: name,
		Size:     int64(len(content)),
		MimeType: "application/pdf",
		Content:  bytes.NewReader([]byte(content)),
	}
}

func TestFileServiceUploadAndDuplicate(t *testing.T) {
	svc, repo, _, _, audit, store := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
	})

	records, err := svc.Upload(context.Background(), dto.UploadFilesRequest{Category: "evidence"},
		[]FileUpload{pdfUpload("report.pdf", "same bytes")}, uploaderClaims())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, repo.records, 1)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.CategoryEvidence, records[0].Category)
	require.NotEmpty(t, records[0].ContentHash)

	_, err = svc.Upload(context.Background(), dto.UploadFilesRequest{},
		[]FileUpload{pdfUpload("copy.pdf", "same bytes")}, uploaderClaims())
	require.ErrorIs(t, err, appErrors.ErrDuplicateFile)

	// The duplicate's bytes were removed; only the original remains.
	names, err := store.ListOlderThan(-time.Minute)
	require.NoError(t, err)
	require.Len(t, names, 1)
	require.Len(t, repo.records, 1)
}

func TestFileServiceUploadValidation(t *testing.T) {
	svc, repo, _, _, _, _ := newTestFileService(t, FileServiceConfig{
		MaxFileSize:  8,
		AllowedMIMEs: []string{"application/pdf"},
	})

	_, err := svc.Upload(context.Background(), dto.UploadFilesRequest{},
		[]FileUpload{pdfUpload("big.pdf", "way past the size limit")}, uploaderClaims())
	require.ErrorIs(t, err, appErrors.ErrFileTooLarge)

	exe := pdfUpload("tool.exe", "MZ")
	exe.MimeType = "application/x-msdownload"
	_, err = svc.Upload(context.Background(), dto.UploadFilesRequest{}, []FileUpload{exe}, uploaderClaims())
	require.ErrorIs(t, err, appErrors.ErrInvalidFileType)

	require.Empty(t, repo.records)
}

func TestFileServiceBatchUnwind(t *testing.T) {
	svc, repo, groups, _, _, store := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
	})
	groups.addMember(models.GroupMember{GroupID: "grp-1", UserID: "user-1", CanUpload: true})

	bad := pdfUpload("bad.bin", "binary")
	bad.MimeType = "application/octet-stream"

	_, err := svc.Upload(context.Background(), dto.UploadFilesRequest{GroupID: "grp-1"},
		[]FileUpload{pdfUpload("first.pdf", "first"), bad}, uploaderClaims())
	require.ErrorIs(t, err, appErrors.ErrInvalidFileType)

	// Nothing from the failed batch survives.
	require.Empty(t, repo.records)
	require.Zero(t, groups.counts["grp-1"])
	names, err := store.ListOlderThan(-time.Minute)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestFileServiceGroupUploadPermission(t *testing.T) {
	svc, _, groups, _, _, _ := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
	})
	groups.addMember(models.GroupMember{GroupID: "grp-1", UserID: "user-1", CanUpload: false})

	_, err := svc.Upload(context.Background(), dto.UploadFilesRequest{GroupID: "grp-9"},
		[]FileUpload{pdfUpload("a.pdf", "a")}, uploaderClaims())
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Upload(context.Background(), dto.UploadFilesRequest{GroupID: "grp-1"},
		[]FileUpload{pdfUpload("a.pdf", "a")}, uploaderClaims())
	require.ErrorIs(t, err, appErrors.ErrAccessDenied)

	groups.addMember(models.GroupMember{GroupID: "grp-1", UserID: "user-1", CanUpload: true})
	records, err := svc.Upload(context.Background(), dto.UploadFilesRequest{GroupID: "grp-1"},
		[]FileUpload{pdfUpload("a.pdf", "a")}, uploaderClaims())
	require.NoError(t, err)
	require.Equal(t, models.VisibilityGroupShared, records[0].Visibility)
	require.Equal(t, 1, groups.counts["grp-1"])
}

func TestFileServiceSoftDeleteFreesHashSlot(t *testing.T) {
	svc, repo, _, _, _, _ := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
	})

	first, err := svc.Upload(context.Background(), dto.UploadFilesRequest{},
		[]FileUpload{pdfUpload("doc.pdf", "recyclable")}, uploaderClaims())
	require.NoError(t, err)

	require.NoError(t, svc.SoftDelete(context.Background(), first[0].ID, uploaderClaims()))

	second, err := svc.Upload(context.Background(), dto.UploadFilesRequest{},
		[]FileUpload{pdfUpload("doc.pdf", "recyclable")}, uploaderClaims())
	require.NoError(t, err)
	require.NotEqual(t, first[0].ID, second[0].ID)
	require.Len(t, repo.records, 2)
}

func TestFileServiceGetRecordsAccess(t *testing.T) {
	svc, _, _, access, _, _ := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
	})

	records, err := svc.Upload(context.Background(), dto.UploadFilesRequest{},
		[]FileUpload{pdfUpload("view.pdf", "viewable")}, uploaderClaims())
	require.NoError(t, err)

	meta := RequestMeta{SourceIP: "10.0.0.1", UserAgent: "test-agent"}
	record, err := svc.Get(context.Background(), records[0].ID, uploaderClaims(), meta)
	require.NoError(t, err)
	require.Equal(t, int64(1), record.ViewCount)
	require.Len(t, access.entries, 1)
	require.Equal(t, models.AccessActionView, access.entries[0].Action)
	require.Equal(t, "10.0.0.1", access.entries[0].SourceIP)
}

func TestFileServiceGetFailsWhenAuditFails(t *testing.T) {
	svc, _, _, access, _, _ := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
	})

	records, err := svc.Upload(context.Background(), dto.UploadFilesRequest{},
		[]FileUpload{pdfUpload("view.pdf", "viewable")}, uploaderClaims())
	require.NoError(t, err)

	access.fail = true
	_, err = svc.Get(context.Background(), records[0].ID, uploaderClaims(), RequestMeta{})
	require.Error(t, err)
}

func TestFileServiceAccessDenied(t *testing.T) {
	svc, _, _, _, _, _ := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
	})

	records, err := svc.Upload(context.Background(), dto.UploadFilesRequest{},
		[]FileUpload{pdfUpload("secret.pdf", "private")}, uploaderClaims())
	require.NoError(t, err)

	stranger := &models.JWTClaims{UserID: "user-2", Role: models.RoleUser}
	_, err = svc.Get(context.Background(), records[0].ID, stranger, RequestMeta{})
	require.ErrorIs(t, err, appErrors.ErrAccessDenied)

	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	_, err = svc.Get(context.Background(), records[0].ID, admin, RequestMeta{})
	require.NoError(t, err)
}

func TestFileServiceViewOnlyMemberCanGetButNotLink(t *testing.T) {
	svc, _, groups, access, _, _ := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
	})
	groups.addMember(models.GroupMember{GroupID: "grp-1", UserID: "user-1", CanUpload: true})
	groups.addMember(models.GroupMember{GroupID: "grp-1", UserID: "user-2", CanDownload: false})

	records, err := svc.Upload(context.Background(), dto.UploadFilesRequest{GroupID: "grp-1"},
		[]FileUpload{pdfUpload("shared.pdf", "shared")}, uploaderClaims())
	require.NoError(t, err)

	// Membership alone grants the view; the download link needs the flag.
	viewer := &models.JWTClaims{UserID: "user-2", Role: models.RoleUser}
	record, err := svc.Get(context.Background(), records[0].ID, viewer, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, int64(1), record.ViewCount)
	require.Len(t, access.entries, 1)

	_, err = svc.GetDownloadURL(context.Background(), records[0].ID, viewer)
	require.ErrorIs(t, err, appErrors.ErrAccessDenied)
}

func TestFileServiceDownload(t *testing.T) {
	svc, _, _, access, _, store := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
	})

	records, err := svc.Upload(context.Background(), dto.UploadFilesRequest{},
		[]FileUpload{pdfUpload("dl.pdf", "downloadable")}, uploaderClaims())
	require.NoError(t, err)

	download, err := svc.Download(context.Background(), records[0].StoredName, "", uploaderClaims(), RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, "dl.pdf", download.OriginalName)
	require.Equal(t, int64(len("downloadable")), download.SizeBytes)
	download.File.Close() //nolint:errcheck
	require.Len(t, access.entries, 1)
	require.Equal(t, models.AccessActionDownload, access.entries[0].Action)

	// Bytes removed out-of-band: the record exists but the content does not.
	require.NoError(t, store.Delete(records[0].StoredName))
	_, err = svc.Download(context.Background(), records[0].StoredName, "", uploaderClaims(), RequestMeta{})
	require.ErrorIs(t, err, appErrors.ErrFileMissingOnDisk)
}

func TestFileServiceSignedDownloadURL(t *testing.T) {
	svc, _, _, _, _, _ := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
		APIPrefix:    "/api/v1",
	})

	records, err := svc.Upload(context.Background(), dto.UploadFilesRequest{},
		[]FileUpload{pdfUpload("signed.pdf", "signed content")}, uploaderClaims())
	require.NoError(t, err)

	url, err := svc.GetDownloadURL(context.Background(), records[0].ID, uploaderClaims())
	require.NoError(t, err)
	require.Contains(t, url, "/api/v1/files/download/")
	require.Contains(t, url, "token=")

	stranger := &models.JWTClaims{UserID: "user-2", Role: models.RoleUser}
	_, err = svc.GetDownloadURL(context.Background(), records[0].ID, stranger)
	require.ErrorIs(t, err, appErrors.ErrAccessDenied)
}

func TestFileServiceDownloadWithoutSigner(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewFileService(newFileRepoStub(), newGroupStub(), &accessStub{}, store, nil, nil, &auditStub{}, nil,
		FileServiceConfig{AllowedMIMEs: []string{"application/pdf"}})

	records, err := svc.Upload(context.Background(), dto.UploadFilesRequest{},
		[]FileUpload{pdfUpload("plain.pdf", "plain content")}, uploaderClaims())
	require.NoError(t, err)

	// Tokens cannot be honoured without a signer; the resolver decides.
	download, err := svc.Download(context.Background(), records[0].StoredName, "stray-token", uploaderClaims(), RequestMeta{})
	require.NoError(t, err)
	download.File.Close() //nolint:errcheck

	stranger := &models.JWTClaims{UserID: "user-2", Role: models.RoleUser}
	_, err = svc.Download(context.Background(), records[0].StoredName, "stray-token", stranger, RequestMeta{})
	require.ErrorIs(t, err, appErrors.ErrAccessDenied)

	_, err = svc.GetDownloadURL(context.Background(), records[0].ID, uploaderClaims())
	require.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestFileServiceUpdateRestrictedToEditors(t *testing.T) {
	svc, _, groups, _, _, _ := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
	})
	groups.addMember(models.GroupMember{GroupID: "grp-1", UserID: "user-1", CanUpload: true})
	groups.addMember(models.GroupMember{GroupID: "grp-1", UserID: "user-2", CanEdit: false})

	records, err := svc.Upload(context.Background(), dto.UploadFilesRequest{GroupID: "grp-1"},
		[]FileUpload{pdfUpload("shared.pdf", "shared")}, uploaderClaims())
	require.NoError(t, err)

	member := &models.JWTClaims{UserID: "user-2", Role: models.RoleUser}
	description := "updated"
	_, err = svc.Update(context.Background(), records[0].ID, models.FileUpdate{Description: &description}, member)
	require.ErrorIs(t, err, appErrors.ErrAccessDenied)

	groups.addMember(models.GroupMember{GroupID: "grp-1", UserID: "user-2", CanEdit: true})
	updated, err := svc.Update(context.Background(), records[0].ID, models.FileUpdate{Description: &description}, member)
	require.NoError(t, err)
	require.Equal(t, "updated", updated.Description)
}

func TestFileServiceCleanupOrphans(t *testing.T) {
	svc, _, _, _, _, store := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs:  []string{"application/pdf"},
		CleanupMinAge: time.Nanosecond,
	})

	records, err := svc.Upload(context.Background(), dto.UploadFilesRequest{},
		[]FileUpload{pdfUpload("tracked.pdf", "tracked")}, uploaderClaims())
	require.NoError(t, err)

	_, err = store.SaveStream("orphan_123.bin", bytes.NewReader([]byte("leftover")))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	removed, err := svc.CleanupOrphans(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = store.Stat(records[0].StoredName)
	require.NoError(t, err)
	_, err = store.Stat("orphan_123.bin")
	require.Error(t, err)
}

func TestFileServiceStatsScoped(t *testing.T) {
	svc, _, _, _, _, _ := newTestFileService(t, FileServiceConfig{
		AllowedMIMEs: []string{"application/pdf"},
	})

	_, err := svc.Upload(context.Background(), dto.UploadFilesRequest{Category: "report"},
		[]FileUpload{pdfUpload("r.pdf", "report content")}, uploaderClaims())
	require.NoError(t, err)

	summary, err := svc.Stats(context.Background(), uploaderClaims())
	require.NoError(t, err)
	require.Equal(t, "visible", summary.Scope)
	require.Equal(t, int64(1), summary.TotalFiles)

	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	summary, err = svc.Stats(context.Background(), admin)
	require.NoError(t, err)
	require.Equal(t, "all", summary.Scope)
}
