package models

import "time"

// FileCategory classifies the business purpose of a stored file.
type FileCategory string

const (
	CategoryDocument FileCategory = "DOCUMENT"
	CategoryImage    FileCategory = "IMAGE"
	CategoryVideo    FileCategory = "VIDEO"
	CategoryAudio    FileCategory = "AUDIO"
	CategoryEvidence FileCategory = "EVIDENCE"
	CategoryReport   FileCategory = "REPORT"
	CategoryLegal    FileCategory = "LEGAL"
	CategoryOther    FileCategory = "OTHER"
)

// ValidCategory reports whether the category is one of the known values.
func ValidCategory(c FileCategory) bool {
	switch c {
	case CategoryDocument, CategoryImage, CategoryVideo, CategoryAudio,
		CategoryEvidence, CategoryReport, CategoryLegal, CategoryOther:
		return true
	}
	return false
}

// FileVisibility constrains who may see a file beyond its uploader.
type FileVisibility string

const (
	VisibilityPrivate     FileVisibility = "PRIVATE"
	VisibilityGroupShared FileVisibility = "GROUP_SHARED"
	VisibilityPublic      FileVisibility = "PUBLIC"
)

// ValidVisibility reports whether the visibility is one of the known values.
func ValidVisibility(v FileVisibility) bool {
	switch v {
	case VisibilityPrivate, VisibilityGroupShared, VisibilityPublic:
		return true
	}
	return false
}

// FileStatus tracks the record lifecycle.
type FileStatus string

const (
	StatusReady       FileStatus = "READY"
	StatusSoftDeleted FileStatus = "SOFT_DELETED"
)

// FileRecord represents one stored file's metadata row.
//
// ContentHash is the hex SHA-256 of the persisted bytes and is unique among
// records whose deleted_at is NULL; the partial unique index on the files
// table is the authoritative enforcement. UploaderID is immutable for the
// record's lifetime.
type FileRecord struct {
	ID            string         `db:"id" json:"id"`
	OriginalName  string         `db:"original_name" json:"originalName"`
	StoredName    string         `db:"stored_name" json:"storedName"`
	Path          string         `db:"path" json:"path"`
	MimeType      string         `db:"mime_type" json:"mimeType"`
	SizeBytes     int64          `db:"size_bytes" json:"sizeBytes"`
	Extension     string         `db:"extension" json:"extension"`
	ContentHash   string         `db:"content_hash" json:"contentHash"`
	Category      FileCategory   `db:"category" json:"category"`
	Tags          TagSet         `db:"tags" json:"tags"`
	Description   string         `db:"description" json:"description"`
	UploaderID    string         `db:"uploader_id" json:"uploaderId"`
	GroupID       *string        `db:"group_id" json:"groupId,omitempty"`
	Visibility    FileVisibility `db:"visibility" json:"visibility"`
	Status        FileStatus     `db:"status" json:"status"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	DeletedAt     *time.Time     `db:"deleted_at" json:"deletedAt,omitempty"`
	ViewCount     int64          `db:"view_count" json:"viewCount"`
	DownloadCount int64          `db:"download_count" json:"downloadCount"`
}

// FileUpdate carries the only mutable metadata fields.
type FileUpdate struct {
	Category    *FileCategory   `json:"category,omitempty"`
	Tags        *TagSet         `json:"tags,omitempty"`
	Description *string         `json:"description,omitempty"`
	Visibility  *FileVisibility `json:"visibility,omitempty"`
}

// FileFilter narrows listing queries by metadata fields.
type FileFilter struct {
	Category  FileCategory
	GroupID   string
	Search    string
	SortBy    string
	SortOrder string
	Page      int
	PageSize  int

	// Scoping: when ActorID is set the listing is limited to files the
	// actor may see (own uploads, accessible groups, public). Admins
	// list with ActorID empty.
	ActorID string
}

// FileStats aggregates totals for the stats summary endpoint.
type FileStats struct {
	TotalFiles     int64                  `json:"totalFiles"`
	TotalSizeBytes int64                  `json:"totalSizeBytes"`
	ByCategory     map[FileCategory]int64 `json:"byCategory"`
	RecentFiles    int64                  `json:"recentFiles"`
}
