package models

import "time"

// Group represents a collaboration group owning shared files. The file core
// only consumes membership and permission lookups; group administration is
// handled elsewhere.
type Group struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	FileCount   int64     `db:"file_count" json:"fileCount"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// GroupMember links a user to a group with per-member permission flags.
type GroupMember struct {
	GroupID     string    `db:"group_id" json:"groupId"`
	UserID      string    `db:"user_id" json:"userId"`
	Role        string    `db:"role" json:"role"`
	CanUpload   bool      `db:"can_upload" json:"canUpload"`
	CanDownload bool      `db:"can_download" json:"canDownload"`
	CanEdit     bool      `db:"can_edit" json:"canEdit"`
	CanDelete   bool      `db:"can_delete" json:"canDelete"`
	CanInvite   bool      `db:"can_invite" json:"canInvite"`
	CanRemove   bool      `db:"can_remove" json:"canRemove"`
	JoinedAt    time.Time `db:"joined_at" json:"joinedAt"`
}
