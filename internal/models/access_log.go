package models

import "time"

// AccessAction enumerates audited file accesses.
type AccessAction string

const (
	AccessActionView     AccessAction = "VIEW"
	AccessActionDownload AccessAction = "DOWNLOAD"
)

// AccessLogEntry records one view or download of a file. Append-only.
type AccessLogEntry struct {
	ID        string       `db:"id" json:"id"`
	FileID    string       `db:"file_id" json:"fileId"`
	UserID    string       `db:"user_id" json:"userId"`
	Action    AccessAction `db:"action" json:"action"`
	SourceIP  string       `db:"source_ip" json:"sourceIp"`
	UserAgent string       `db:"user_agent" json:"userAgent"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
}
