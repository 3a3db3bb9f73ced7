package api

import "context"

// WorkspaceAccess is the default access policy used when no external
// access-control service is configured: a caller owns their own workspace and
// has no access to any other.
type WorkspaceAccess struct{}

// CheckAccess implements AccessChecker.
func (WorkspaceAccess) CheckAccess(_ context.Context, workspaceID, _ string, ident Identity) (AccessLevel, error) {
	if workspaceID != "" && workspaceID == ident.WorkspaceID {
		return AccessOwner, nil
	}
	return AccessNone, nil
}
