package service

import (
	"github.com/evidtrack/evidence-api/internal/models"
)

// Action enumerates the operations the resolver decides on.
type Action string

const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
	ActionEdit     Action = "edit"
	ActionDelete   Action = "delete"
)

// Actor is the identity a decision is made for.
type Actor struct {
	ID   string
	Role models.UserRole
}

// Decision is the outcome of an access resolution.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

// Deny produces a negative decision with a stable reason code.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// ResolveAccess decides whether the actor may perform the action on the
// file. membership is the actor's membership row for the file's group, nil
// when the actor is not a member (or the file has no group).
//
// The function is pure and deterministic; rules are evaluated in fixed
// precedence and the first satisfied rule decides:
//
//  1. admins may do anything
//  2. the uploader may do anything
//  3. public files allow view and download to anyone
//  4. group members act according to their permission flags
//     (view is implied by membership)
//  5. otherwise the action is denied
func ResolveAccess(actor Actor, file *models.FileRecord, membership *models.GroupMember, action Action) Decision {
	if file == nil {
		return Deny("ACCESS_DENIED")
	}

	if actor.Role == models.RoleAdmin {
		return Allow
	}

	if actor.ID != "" && actor.ID == file.UploaderID {
		return Allow
	}

	if file.Visibility == models.VisibilityPublic &&
		(action == ActionView || action == ActionDownload) {
		return Allow
	}

	if file.GroupID != nil && membership != nil &&
		membership.GroupID == *file.GroupID && membership.UserID == actor.ID {
		switch action {
		case ActionView:
			return Allow
		case ActionDownload:
			if membership.CanDownload {
				return Allow
			}
		case ActionEdit:
			if membership.CanEdit {
				return Allow
			}
		case ActionDelete:
			if membership.CanDelete {
				return Allow
			}
		}
	}

	return Deny("ACCESS_DENIED")
}
