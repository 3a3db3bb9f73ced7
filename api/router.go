package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the explicit route table. Every route runs behind the
// identity middleware; per-route access checks live in the handlers.
func Router(nodes *NodeHandler, bulk *BulkHandler, idents IdentityParser) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withIdentity(idents))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/node", nodes.Create)
		r.Get("/node/{id}", nodes.Get)
		r.Get("/node/{id}/ancestors", nodes.Ancestors)
		r.Get("/node/{id}/subtree", nodes.Subtree)
		r.Post("/node/{id}/move", nodes.Move)
		r.Delete("/node/{id}", nodes.Delete)
		r.Get("/graph", nodes.Graph)

		r.Post("/batch", bulk.Apply)
	})

	return r
}

// withIdentity extracts the caller identity once per request and stores it on
// the context for the handlers.
func withIdentity(parser IdentityParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, err := parser.Parse(r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
				return
			}
			ctx := context.WithValue(r.Context(), identityContextKey{}, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HeaderIdentityParser reads the caller identity from pre-validated gateway
// headers. Token verification happens upstream (the API gateway authorizer);
// by the time a request reaches this service the headers are trusted.
type HeaderIdentityParser struct {
	// UserHeader is the header carrying the user id. Default "x-user-id".
	UserHeader string

	// WorkspaceHeader is the header carrying the workspace id.
	// Default "x-workspace-id".
	WorkspaceHeader string
}

// Parse implements IdentityParser.
func (p HeaderIdentityParser) Parse(r *http.Request) (Identity, error) {
	userHeader := p.UserHeader
	if userHeader == "" {
		userHeader = "x-user-id"
	}
	workspaceHeader := p.WorkspaceHeader
	if workspaceHeader == "" {
		workspaceHeader = "x-workspace-id"
	}

	ident := Identity{
		UserID:      r.Header.Get(userHeader),
		WorkspaceID: r.Header.Get(workspaceHeader),
	}
	if ident.UserID == "" || ident.WorkspaceID == "" {
		return Identity{}, errMissingIdentity
	}
	return ident, nil
}

var errMissingIdentity = errors.New("arbor: missing identity headers")
