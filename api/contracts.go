// Package api exposes the hierarchy and batch engines over a thin HTTP
// surface: an explicit chi route table, constructor-injected handlers, and
// narrow contracts for the external access-control and identity
// collaborators.
package api

import (
	"context"
	"net/http"
)

// AccessLevel is the verdict of the external access-control service.
type AccessLevel string

const (
	AccessNone   AccessLevel = "NO_ACCESS"
	AccessRead   AccessLevel = "READ"
	AccessWrite  AccessLevel = "WRITE"
	AccessManage AccessLevel = "MANAGE"
	AccessOwner  AccessLevel = "OWNER"
)

// CanWrite reports whether the level permits mutations. Anything short of a
// write-capable level is insufficient and the request must be rejected.
func (l AccessLevel) CanWrite() bool {
	switch l {
	case AccessWrite, AccessManage, AccessOwner:
		return true
	}
	return false
}

// CanRead reports whether the level permits reads.
func (l AccessLevel) CanRead() bool {
	return l != AccessNone && l != ""
}

// Identity is a caller's validated identity, extracted from request headers
// or tokens before any engine operation runs.
type Identity struct {
	UserID      string
	WorkspaceID string
}

// IdentityParser extracts the caller identity from a request.
type IdentityParser interface {
	Parse(r *http.Request) (Identity, error)
}

// AccessChecker is the external access-control collaborator.
type AccessChecker interface {
	CheckAccess(ctx context.Context, workspaceID, nodeID string, ident Identity) (AccessLevel, error)
}

type identityContextKey struct{}

// identityFrom returns the identity stored by the auth middleware.
func identityFrom(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityContextKey{}).(Identity)
	return ident, ok
}
