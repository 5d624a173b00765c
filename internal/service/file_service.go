package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/evidtrack/evidence-api/internal/dto"
	"github.com/evidtrack/evidence-api/internal/models"
	appErrors "github.com/evidtrack/evidence-api/pkg/errors"
)

type fileStore interface {
	Create(ctx context.Context, record *models.FileRecord) error
	GetByID(ctx context.Context, id string) (*models.FileRecord, error)
	GetByStoredName(ctx context.Context, storedName string) (*models.FileRecord, error)
	FindActiveByHash(ctx context.Context, hash string) (*models.FileRecord, error)
	List(ctx context.Context, filter models.FileFilter) ([]models.FileRecord, int, error)
	Update(ctx context.Context, id string, update models.FileUpdate) (*models.FileRecord, error)
	SoftDelete(ctx context.Context, id string, deletedAt time.Time) error
	HardDelete(ctx context.Context, id string) error
	ExistsByStoredName(ctx context.Context, storedName string) (bool, error)
	Stats(ctx context.Context, actorID string) (*models.FileStats, error)
}

type groupMembershipProvider interface {
	GetByID(ctx context.Context, id string) (*models.Group, error)
	GetMember(ctx context.Context, groupID, userID string) (*models.GroupMember, error)
	IncrementFileCount(ctx context.Context, groupID string, delta int) error
}

type accessLogStore interface {
	Record(ctx context.Context, entry *models.AccessLogEntry) error
	ListByFile(ctx context.Context, fileID string, limit int) ([]models.AccessLogEntry, error)
}

type fileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Stat(filename string) (os.FileInfo, error)
	Delete(filename string) error
	ListOlderThan(minAge time.Duration) ([]string, error)
}

type fileSignedURLSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, relPath string, expiresAt time.Time, err error)
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type uploadObserver interface {
	ObserveUpload(outcome string, sizeBytes int64)
}

// FileUpload carries one upload's metadata and stream reader.
type FileUpload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.ReadSeeker
}

// FileDownload bundles an open file handle with response metadata.
type FileDownload struct {
	File         *os.File
	OriginalName string
	MimeType     string
	SizeBytes    int64
}

// RequestMeta identifies the client for access auditing.
type RequestMeta struct {
	SourceIP  string
	UserAgent string
}

// FileServiceConfig holds validation parameters and feature tuning.
type FileServiceConfig struct {
	MaxFileSize   int64
	AllowedMIMEs  []string
	APIPrefix     string
	StatsCacheTTL time.Duration
	CleanupMinAge time.Duration
}

// FileService implements upload ingestion, access-controlled reads,
// lifecycle updates and the access audit trail.
type FileService struct {
	repo    fileStore
	groups  groupMembershipProvider
	access  accessLogStore
	storage fileStorage
	signer  fileSignedURLSigner
	cache   statsCache
	audit   auditLogger
	metrics uploadObserver
	logger  *zap.Logger
	cfg     FileServiceConfig
	mimeSet map[string]struct{}
}

// SetMetrics attaches an upload metrics sink. Optional.
func (s *FileService) SetMetrics(m uploadObserver) {
	s.metrics = m
}

// NewFileService constructs the service with defaults.
func NewFileService(repo fileStore, groups groupMembershipProvider, access accessLogStore, storage fileStorage, signer fileSignedURLSigner, cache statsCache, audit auditLogger, logger *zap.Logger, cfg FileServiceConfig) *FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 50 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{
			"application/pdf",
			"image/jpeg",
			"image/png",
			"text/plain",
		}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if cfg.StatsCacheTTL <= 0 {
		cfg.StatsCacheTTL = 5 * time.Minute
	}
	if cfg.CleanupMinAge <= 0 {
		cfg.CleanupMinAge = time.Hour
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(mt)] = struct{}{}
	}
	return &FileService{
		repo:    repo,
		groups:  groups,
		access:  access,
		storage: storage,
		signer:  signer,
		cache:   cache,
		audit:   audit,
		logger:  logger,
		cfg:     cfg,
		mimeSet: mimeSet,
	}
}

// writtenFile tracks state created during a batch so it can be unwound.
type writtenFile struct {
	storedName string
	recordID   string
	groupID    *string
}

// Upload ingests a batch of files. The batch is all-or-nothing: a failure on
// any file removes every byte and record written earlier in the same request
// before the error is returned, so responses only ever reflect final state.
func (s *FileService) Upload(ctx context.Context, meta dto.UploadFilesRequest, uploads []FileUpload, actor *models.JWTClaims) ([]models.FileRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if len(uploads) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one file is required")
	}

	category, visibility, groupID, err := s.normalizeUploadMeta(meta)
	if err != nil {
		return nil, err
	}

	if groupID != nil {
		if _, err := s.groups.GetByID(ctx, *groupID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "group does not exist")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
		}
		member, err := s.groups.GetMember(ctx, *groupID, actor.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group membership")
		}
		if actor.Role != models.RoleAdmin && (member == nil || !member.CanUpload) {
			return nil, appErrors.ErrAccessDenied
		}
	}

	tags := models.ParseTagSet(meta.Tags)
	written := make([]writtenFile, 0, len(uploads))
	records := make([]models.FileRecord, 0, len(uploads))

	// Files are processed sequentially so a later failure can
	// deterministically unwind everything written in this request.
	for _, upload := range uploads {
		record, w, err := s.ingestOne(ctx, upload, category, visibility, groupID, tags, meta.Description, actor)
		if err != nil {
			s.unwind(ctx, written)
			if s.metrics != nil {
				s.metrics.ObserveUpload("rejected", 0)
			}
			return nil, err
		}
		written = append(written, w)
		records = append(records, *record)
	}

	if s.metrics != nil {
		for _, record := range records {
			s.metrics.ObserveUpload("accepted", record.SizeBytes)
		}
	}

	s.invalidateStatsCache(ctx)
	s.emitAudit(ctx, actor, models.AuditActionFileUpload, firstRecordID(records), map[string]interface{}{
		"count":    len(records),
		"category": string(category),
	})
	return records, nil
}

func (s *FileService) ingestOne(ctx context.Context, upload FileUpload, category models.FileCategory, visibility models.FileVisibility, groupID *string, tags models.TagSet, description string, actor *models.JWTClaims) (*models.FileRecord, writtenFile, error) {
	var none writtenFile

	if upload.Content == nil || upload.Size <= 0 {
		return nil, none, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, none, appErrors.Clone(appErrors.ErrFileTooLarge,
			fmt.Sprintf("file %q exceeds %d bytes limit", upload.Filename, s.cfg.MaxFileSize))
	}
	mimeType, err := s.detectMime(upload)
	if err != nil {
		return nil, none, err
	}
	if _, allowed := s.mimeSet[strings.ToLower(mimeType)]; !allowed {
		return nil, none, appErrors.Clone(appErrors.ErrInvalidFileType,
			fmt.Sprintf("mime type %q not allowed", mimeType))
	}

	storedName := s.generateStoredName(category, upload.Filename)
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return nil, none, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	path, err := s.storage.SaveStream(storedName, upload.Content)
	if err != nil {
		return nil, none, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist file")
	}

	// The hash is computed over the bytes actually on disk, not the request
	// stream, so the dedup key always matches stored content.
	hash, err := s.hashStoredFile(storedName)
	if err != nil {
		_ = s.storage.Delete(storedName)
		return nil, none, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash stored file")
	}

	// Fast path only; the partial unique index is the correctness mechanism.
	existing, err := s.repo.FindActiveByHash(ctx, hash)
	if err != nil {
		_ = s.storage.Delete(storedName)
		return nil, none, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check for duplicates")
	}
	if existing != nil {
		_ = s.storage.Delete(storedName)
		return nil, none, appErrors.Clone(appErrors.ErrDuplicateFile,
			fmt.Sprintf("identical content already stored as file %s", existing.ID))
	}

	record := &models.FileRecord{
		OriginalName: upload.Filename,
		StoredName:   storedName,
		Path:         path,
		MimeType:     mimeType,
		SizeBytes:    upload.Size,
		Extension:    strings.ToLower(filepath.Ext(upload.Filename)),
		ContentHash:  hash,
		Category:     category,
		Tags:         tags,
		Description:  description,
		UploaderID:   actor.UserID,
		GroupID:      groupID,
		Visibility:   visibility,
		Status:       models.StatusReady,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		_ = s.storage.Delete(storedName)
		if errors.Is(err, appErrors.ErrHashCollision) {
			// Lost the race against a concurrent identical upload.
			return nil, none, appErrors.Clone(appErrors.ErrHashCollision,
				"identical content was registered concurrently")
		}
		return nil, none, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create file record")
	}

	if groupID != nil {
		if err := s.groups.IncrementFileCount(ctx, *groupID, 1); err != nil {
			s.logger.Warn("failed to increment group file count", zap.Error(err), zap.String("group_id", *groupID))
		}
	}

	return record, writtenFile{storedName: storedName, recordID: record.ID, groupID: groupID}, nil
}

func (s *FileService) unwind(ctx context.Context, written []writtenFile) {
	for _, w := range written {
		if err := s.storage.Delete(w.storedName); err != nil {
			s.logger.Warn("failed to remove bytes during batch unwind", zap.Error(err), zap.String("stored_name", w.storedName))
		}
		if w.recordID != "" {
			if err := s.repo.HardDelete(ctx, w.recordID); err != nil {
				s.logger.Warn("failed to remove record during batch unwind", zap.Error(err), zap.String("file_id", w.recordID))
			}
		}
		if w.groupID != nil {
			if err := s.groups.IncrementFileCount(ctx, *w.groupID, -1); err != nil {
				s.logger.Warn("failed to revert group file count", zap.Error(err), zap.String("group_id", *w.groupID))
			}
		}
	}
}

// Get returns file metadata, enforcing view access and recording the view in
// the audit trail before the response is produced.
func (s *FileService) Get(ctx context.Context, id string, actor *models.JWTClaims, meta RequestMeta) (*models.FileRecord, error) {
	record, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, record, actor, ActionView); err != nil {
		return nil, err
	}
	if err := s.recordAccess(ctx, record, actor, models.AccessActionView, meta); err != nil {
		return nil, err
	}
	record.ViewCount++
	return record, nil
}

// GetDownloadURL issues a signed, time-limited download link after a
// download-access check.
func (s *FileService) GetDownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (string, error) {
	if s.signer == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	record, err := s.loadActive(ctx, id)
	if err != nil {
		return "", err
	}
	if err := s.authorize(ctx, record, actor, ActionDownload); err != nil {
		return "", err
	}
	token, _, err := s.signer.Generate(record.ID, record.StoredName)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return fmt.Sprintf("%s/files/download/%s?token=%s", base, record.StoredName, token), nil
}

// Download opens the stored bytes for streaming. Physical presence on disk
// is re-verified at request time: a record whose bytes vanished out-of-band
// yields FILE_NOT_FOUND_ON_DISK, distinct from an unknown record. The
// download is audited and counted after the access decision and before any
// byte is streamed, so client disconnects cannot corrupt counters.
func (s *FileService) Download(ctx context.Context, storedName, token string, actor *models.JWTClaims, meta RequestMeta) (*FileDownload, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	record, err := s.repo.GetByStoredName(ctx, storedName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}

	if token != "" && s.signer != nil {
		// Signed grants were issued after a resolver check in GetDownloadURL.
		fileID, relPath, _, err := s.signer.Parse(token, false)
		if err != nil || fileID != record.ID || relPath != record.StoredName {
			return nil, appErrors.Clone(appErrors.ErrAccessDenied, "invalid or expired download token")
		}
	} else if err := s.authorize(ctx, record, actor, ActionDownload); err != nil {
		return nil, err
	}

	if _, err := s.storage.Stat(record.StoredName); err != nil {
		if os.IsNotExist(err) {
			return nil, appErrors.ErrFileMissingOnDisk
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat stored file")
	}

	if err := s.recordAccess(ctx, record, actor, models.AccessActionDownload, meta); err != nil {
		return nil, err
	}

	file, err := s.storage.Open(record.StoredName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open stored file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read stored file metadata")
	}
	return &FileDownload{
		File:         file,
		OriginalName: record.OriginalName,
		MimeType:     record.MimeType,
		SizeBytes:    info.Size(),
	}, nil
}

// List returns active files visible to the actor with pagination metadata.
func (s *FileService) List(ctx context.Context, query dto.FileListQuery, actor *models.JWTClaims) ([]models.FileRecord, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.FileFilter{
		Category:  models.FileCategory(strings.ToUpper(query.Category)),
		GroupID:   query.GroupID,
		Search:    query.Search,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
		Page:      query.Page,
		PageSize:  query.Limit,
	}
	if query.Category != "" && !models.ValidCategory(filter.Category) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid category filter")
	}
	if actor.Role != models.RoleAdmin {
		filter.ActorID = actor.UserID
	}

	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list files")
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	return records, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Update mutates the editable metadata fields after an edit-access check.
// The HTTP boundary already rejected any non-mutable field.
func (s *FileService) Update(ctx context.Context, id string, update models.FileUpdate, actor *models.JWTClaims) (*models.FileRecord, error) {
	record, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, record, actor, ActionEdit); err != nil {
		return nil, err
	}
	if update.Category != nil && !models.ValidCategory(*update.Category) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid category")
	}
	if update.Visibility != nil && !models.ValidVisibility(*update.Visibility) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid visibility")
	}

	updated, err := s.repo.Update(ctx, id, update)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update file")
	}

	s.invalidateStatsCache(ctx)
	s.emitAudit(ctx, actor, models.AuditActionFileUpdate, updated.ID, map[string]interface{}{
		"category":   updated.Category,
		"visibility": updated.Visibility,
	})
	return updated, nil
}

// SoftDelete marks the record deleted after a delete-access check. Stored
// bytes are retained; physical reclamation is a separate concern.
func (s *FileService) SoftDelete(ctx context.Context, id string, actor *models.JWTClaims) error {
	record, err := s.loadActive(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, record, actor, ActionDelete); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete file")
	}
	if record.GroupID != nil {
		if err := s.groups.IncrementFileCount(ctx, *record.GroupID, -1); err != nil {
			s.logger.Warn("failed to decrement group file count", zap.Error(err), zap.String("group_id", *record.GroupID))
		}
	}
	s.invalidateStatsCache(ctx)
	s.emitAudit(ctx, actor, models.AuditActionFileDelete, id, nil)
	return nil
}

// AccessLog lists a file's audit entries. Route-level RBAC restricts this
// to admins.
func (s *FileService) AccessLog(ctx context.Context, id string, limit int) ([]models.AccessLogEntry, error) {
	if _, err := s.loadAny(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.access.ListByFile(ctx, id, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list access log")
	}
	return entries, nil
}

// Stats returns role-scoped aggregate totals, cached in Redis.
func (s *FileService) Stats(ctx context.Context, actor *models.JWTClaims) (*dto.FileStatsSummary, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	scope := "visible"
	actorID := actor.UserID
	if actor.Role == models.RoleAdmin {
		scope = "all"
		actorID = ""
	}

	cacheKey := fmt.Sprintf("files:stats:%s:%s", scope, actorID)
	if s.cache != nil {
		var cached dto.FileStatsSummary
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			cached.Cached = true
			return &cached, nil
		}
	}

	stats, err := s.repo.Stats(ctx, actorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate stats")
	}
	summary := &dto.FileStatsSummary{
		TotalFiles:     stats.TotalFiles,
		TotalSizeBytes: stats.TotalSizeBytes,
		ByCategory:     stats.ByCategory,
		RecentFiles:    stats.RecentFiles,
		Scope:          scope,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, summary, s.cfg.StatsCacheTTL); err != nil {
			s.logger.Warn("failed to cache stats summary", zap.Error(err))
		}
	}
	return summary, nil
}

// CleanupOrphans removes stored blobs no metadata row references. Uploads
// aborted by client disconnect leave such blobs behind; the sweep only
// touches files older than the configured grace period so in-flight writes
// are never collected.
func (s *FileService) CleanupOrphans(ctx context.Context) (int, error) {
	names, err := s.storage.ListOlderThan(s.cfg.CleanupMinAge)
	if err != nil {
		return 0, fmt.Errorf("list stored files: %w", err)
	}
	removed := 0
	for _, name := range names {
		exists, err := s.repo.ExistsByStoredName(ctx, name)
		if err != nil {
			return removed, fmt.Errorf("check stored file %s: %w", name, err)
		}
		if exists {
			continue
		}
		if err := s.storage.Delete(name); err != nil {
			s.logger.Warn("failed to remove orphaned file", zap.Error(err), zap.String("stored_name", name))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Sugar().Infow("orphan cleanup finished", "removed", removed)
	}
	return removed, nil
}

func (s *FileService) loadActive(ctx context.Context, id string) (*models.FileRecord, error) {
	record, err := s.loadAny(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.DeletedAt != nil {
		return nil, appErrors.ErrNotFound
	}
	return record, nil
}

func (s *FileService) loadAny(ctx context.Context, id string) (*models.FileRecord, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	return record, nil
}

// authorize resolves membership for the file's group and evaluates the
// access decision, translating a deny into ErrAccessDenied.
func (s *FileService) authorize(ctx context.Context, record *models.FileRecord, actor *models.JWTClaims, action Action) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	var membership *models.GroupMember
	if record.GroupID != nil {
		member, err := s.groups.GetMember(ctx, *record.GroupID, actor.UserID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group membership")
		}
		membership = member
	}
	decision := ResolveAccess(Actor{ID: actor.UserID, Role: actor.Role}, record, membership, action)
	if !decision.Allowed {
		return appErrors.ErrAccessDenied
	}
	return nil
}

// recordAccess appends the audit entry and bumps the counter synchronously.
// A failure fails the whole request: an evidence trail with silent gaps is
// worse than a refused read.
func (s *FileService) recordAccess(ctx context.Context, record *models.FileRecord, actor *models.JWTClaims, action models.AccessAction, meta RequestMeta) error {
	entry := &models.AccessLogEntry{
		FileID:    record.ID,
		UserID:    actor.UserID,
		Action:    action,
		SourceIP:  meta.SourceIP,
		UserAgent: meta.UserAgent,
	}
	if err := s.access.Record(ctx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record file access")
	}
	return nil
}

func (s *FileService) normalizeUploadMeta(meta dto.UploadFilesRequest) (models.FileCategory, models.FileVisibility, *string, error) {
	category := models.CategoryOther
	if strings.TrimSpace(meta.Category) != "" {
		category = models.FileCategory(strings.ToUpper(strings.TrimSpace(meta.Category)))
		if !models.ValidCategory(category) {
			return "", "", nil, appErrors.Clone(appErrors.ErrValidation, "invalid category")
		}
	}

	var groupID *string
	if trimmed := strings.TrimSpace(meta.GroupID); trimmed != "" {
		groupID = &trimmed
	}

	visibility := models.VisibilityPrivate
	if groupID != nil {
		visibility = models.VisibilityGroupShared
	}
	if strings.TrimSpace(meta.Visibility) != "" {
		visibility = models.FileVisibility(strings.ToUpper(strings.TrimSpace(meta.Visibility)))
		if !models.ValidVisibility(visibility) {
			return "", "", nil, appErrors.Clone(appErrors.ErrValidation, "invalid visibility")
		}
	}

	return category, visibility, groupID, nil
}

func (s *FileService) detectMime(upload FileUpload) (string, error) {
	if upload.Content == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "file reader missing")
	}
	if upload.MimeType != "" {
		return upload.MimeType, nil
	}
	header := make([]byte, 512)
	n, err := upload.Content.Read(header)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if n == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	return http.DetectContentType(header[:n]), nil
}

// hashStoredFile computes the hex SHA-256 digest over the persisted bytes.
func (s *FileService) hashStoredFile(storedName string) (string, error) {
	file, err := s.storage.Open(storedName)
	if err != nil {
		return "", err
	}
	defer file.Close() //nolint:errcheck
	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *FileService) generateStoredName(category models.FileCategory, original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("%s_%d_%s%s", sanitize(string(category)), time.Now().Unix(), randomSuffix(), ext)
}

func (s *FileService) invalidateStatsCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "files:stats:*"); err != nil {
		s.logger.Warn("failed to invalidate stats cache", zap.Error(err))
	}
}

func (s *FileService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:    &actor.UserID,
		Action:    action,
		Resource:  "file",
		IPAddress: "system",
		UserAgent: "file-service",
	}
	if resourceID != "" {
		log.ResourceID = &resourceID
	}
	if values != nil {
		payload, err := json.Marshal(values)
		if err == nil {
			log.NewValues = payload
		}
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create file audit record", zap.Error(err))
	}
}

func firstRecordID(records []models.FileRecord) string {
	if len(records) == 0 {
		return ""
	}
	return records[0].ID
}

func sanitize(raw string) string {
	raw = strings.ToLower(raw)
	var b strings.Builder
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
