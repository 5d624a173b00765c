package dto

import "github.com/evidtrack/evidence-api/internal/models"

// UploadFilesRequest contains the metadata submitted alongside a multipart
// batch upload. Tags arrive comma-separated, matching the form contract.
type UploadFilesRequest struct {
	GroupID     string `form:"groupId" json:"groupId"`
	Category    string `form:"category" json:"category"`
	Tags        string `form:"tags" json:"tags"`
	Description string `form:"description" json:"description"`
	Visibility  string `form:"visibility" json:"visibility"`
}

// UpdateFileRequest carries the only mutable metadata fields. Any other key
// in the request body is rejected at the boundary, not silently ignored.
type UpdateFileRequest struct {
	Category    *string   `json:"category"`
	Tags        *[]string `json:"tags"`
	Description *string   `json:"description"`
	Visibility  *string   `json:"visibility"`
}

// FileListQuery captures listing query parameters.
type FileListQuery struct {
	Page      int    `form:"page"`
	Limit     int    `form:"limit"`
	Category  string `form:"category"`
	GroupID   string `form:"groupId"`
	Search    string `form:"search"`
	SortBy    string `form:"sortBy"`
	SortOrder string `form:"sortOrder"`
}

// FileDetailResponse enriches a record with a signed download URL.
type FileDetailResponse struct {
	models.FileRecord
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// FileStatsSummary is the payload for the stats summary endpoint.
type FileStatsSummary struct {
	TotalFiles     int64                         `json:"totalFiles"`
	TotalSizeBytes int64                         `json:"totalSizeBytes"`
	ByCategory     map[models.FileCategory]int64 `json:"byCategory"`
	RecentFiles    int64                         `json:"recentFiles"`
	Scope          string                        `json:"scope"`
	Cached         bool                          `json:"-"`
}
