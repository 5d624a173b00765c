package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/evidtrack/evidence-api/internal/models"
)

// GroupRepository exposes the membership and statistics lookups the file
// core consumes. Group administration lives outside this service.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// GetByID retrieves one group row.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*models.Group, error) {
	const query = `SELECT id, name, description, file_count, created_at FROM groups WHERE id = $1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// GetMember returns the membership row with permission flags, or nil when
// the user is not a member of the group.
func (r *GroupRepository) GetMember(ctx context.Context, groupID, userID string) (*models.GroupMember, error) {
	const query = `SELECT group_id, user_id, role, can_upload, can_download, can_edit,
	       can_delete, can_invite, can_remove, joined_at
	FROM group_members WHERE group_id = $1 AND user_id = $2`
	var member models.GroupMember
	if err := r.db.GetContext(ctx, &member, query, groupID, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup group member: %w", err)
	}
	return &member, nil
}

// IncrementFileCount adjusts the group's file-count statistic atomically.
// delta may be negative when unwinding a failed batch.
func (r *GroupRepository) IncrementFileCount(ctx context.Context, groupID string, delta int) error {
	const query = `UPDATE groups SET file_count = file_count + $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, groupID, delta)
	if err != nil {
		return fmt.Errorf("increment group file count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check group update rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
