package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evidtrack/evidence-api/internal/models"
)

func resolverFile(uploaderID string, visibility models.FileVisibility, groupID *string) *models.FileRecord {
	return &models.FileRecord{
		ID:         "file-1",
		UploaderID: uploaderID,
		Visibility: visibility,
		GroupID:    groupID,
	}
}

func TestResolveAccessPrecedence(t *testing.T) {
	groupID := "grp-1"
	admin := Actor{ID: "admin-1", Role: models.RoleAdmin}
	uploader := Actor{ID: "owner-1", Role: models.RoleUser}
	member := Actor{ID: "member-1", Role: models.RoleUser}
	stranger := Actor{ID: "other-1", Role: models.RoleUser}

	membership := &models.GroupMember{
		GroupID:     groupID,
		UserID:      "member-1",
		CanDownload: true,
		CanEdit:     false,
		CanDelete:   false,
	}

	tests := []struct {
		name       string
		actor      Actor
		file       *models.FileRecord
		membership *models.GroupMember
		action     Action
		allowed    bool
	}{
		{"admin may delete anything", admin, resolverFile("owner-1", models.VisibilityPrivate, nil), nil, ActionDelete, true},
		{"uploader may edit own file", uploader, resolverFile("owner-1", models.VisibilityPrivate, nil), nil, ActionEdit, true},
		{"uploader may delete own file", uploader, resolverFile("owner-1", models.VisibilityPrivate, nil), nil, ActionDelete, true},
		{"stranger denied private view", stranger, resolverFile("owner-1", models.VisibilityPrivate, nil), nil, ActionView, false},
		{"public grants view to anyone", stranger, resolverFile("owner-1", models.VisibilityPublic, nil), nil, ActionView, true},
		{"public grants download to anyone", stranger, resolverFile("owner-1", models.VisibilityPublic, nil), nil, ActionDownload, true},
		{"public never grants edit", stranger, resolverFile("owner-1", models.VisibilityPublic, nil), nil, ActionEdit, false},
		{"public never grants delete", stranger, resolverFile("owner-1", models.VisibilityPublic, nil), nil, ActionDelete, false},
		{"membership implies view", member, resolverFile("owner-1", models.VisibilityGroupShared, &groupID), membership, ActionView, true},
		{"member download follows flag", member, resolverFile("owner-1", models.VisibilityGroupShared, &groupID), membership, ActionDownload, true},
		{"member edit denied without flag", member, resolverFile("owner-1", models.VisibilityGroupShared, &groupID), membership, ActionEdit, false},
		{"member delete denied without flag", member, resolverFile("owner-1", models.VisibilityGroupShared, &groupID), membership, ActionDelete, false},
		{"non-member denied group file", stranger, resolverFile("owner-1", models.VisibilityGroupShared, &groupID), nil, ActionView, false},
		{"nil file denied", admin, nil, nil, ActionView, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision := ResolveAccess(tc.actor, tc.file, tc.membership, tc.action)
			require.Equal(t, tc.allowed, decision.Allowed)
			if !tc.allowed {
				require.Equal(t, "ACCESS_DENIED", decision.Reason)
			}
		})
	}
}

func TestResolveAccessMembershipMustMatch(t *testing.T) {
	groupID := "grp-1"
	otherGroup := &models.GroupMember{GroupID: "grp-2", UserID: "member-1", CanDownload: true}
	file := resolverFile("owner-1", models.VisibilityGroupShared, &groupID)

	decision := ResolveAccess(Actor{ID: "member-1", Role: models.RoleUser}, file, otherGroup, ActionDownload)
	require.False(t, decision.Allowed)

	wrongUser := &models.GroupMember{GroupID: groupID, UserID: "someone-else", CanDownload: true}
	decision = ResolveAccess(Actor{ID: "member-1", Role: models.RoleUser}, file, wrongUser, ActionDownload)
	require.False(t, decision.Allowed)
}

func TestResolveAccessGroupFlagGrants(t *testing.T) {
	groupID := "grp-1"
	file := resolverFile("owner-1", models.VisibilityGroupShared, &groupID)
	editor := &models.GroupMember{GroupID: groupID, UserID: "member-1", CanEdit: true, CanDelete: true}
	actor := Actor{ID: "member-1", Role: models.RoleUser}

	require.True(t, ResolveAccess(actor, file, editor, ActionEdit).Allowed)
	require.True(t, ResolveAccess(actor, file, editor, ActionDelete).Allowed)
	require.False(t, ResolveAccess(actor, file, editor, ActionDownload).Allowed)
}
