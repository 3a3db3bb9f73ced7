package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jacentio/arbor/batch"
)

// BulkHandler serves the batch mutation endpoint.
type BulkHandler struct {
	engine   *batch.Engine
	access   AccessChecker
	validate *validator.Validate
	logger   *slog.Logger
}

// NewBulkHandler creates a bulk handler.
func NewBulkHandler(engine *batch.Engine, access AccessChecker, logger *slog.Logger) *BulkHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkHandler{
		engine:   engine,
		access:   access,
		validate: validator.New(),
		logger:   logger,
	}
}

// BulkUnit is one unit of a bulk mutation request body.
type BulkUnit struct {
	Type       string         `json:"type" validate:"required,oneof=CREATE UPDATE DELETE"`
	EntityID   string         `json:"entityId,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// BulkRequest is the body for POST /v1/batch.
type BulkRequest struct {
	Items []BulkUnit `json:"items" validate:"required,min=1,dive"`
}

// Apply handles POST /v1/batch. Partial failure is not an error: the response
// is always 200 with a body distinguishing fulfilled from rejected units.
func (h *BulkHandler) Apply(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing identity"})
		return
	}

	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	level, err := h.access.CheckAccess(r.Context(), ident.WorkspaceID, "", ident)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !level.CanWrite() {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "insufficient access"})
		return
	}

	requests := make([]batch.Request, 0, len(req.Items))
	for _, item := range req.Items {
		requests = append(requests, batch.Request{
			Type:        batch.Type(item.Type),
			WorkspaceID: ident.WorkspaceID,
			EntityID:    item.EntityID,
			UserID:      ident.UserID,
			Properties:  item.Properties,
		})
	}

	result := h.engine.Execute(r.Context(), requests, batch.Options{
		WorkspaceID: ident.WorkspaceID,
	})
	writeJSON(w, http.StatusOK, toBulkResponse(result))
}

type bulkOutcome struct {
	WorkspaceID string         `json:"workspaceId"`
	EntityID    string         `json:"entityId"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

type bulkResponse struct {
	Fulfilled []bulkOutcome `json:"fulfilled"`
	Rejected  []bulkOutcome `json:"rejected"`
}

func toBulkResponse(result batch.Result) bulkResponse {
	resp := bulkResponse{
		Fulfilled: make([]bulkOutcome, 0, len(result.Fulfilled)),
		Rejected:  make([]bulkOutcome, 0, len(result.Rejected)),
	}
	for _, out := range result.Fulfilled {
		resp.Fulfilled = append(resp.Fulfilled, bulkOutcome{
			WorkspaceID: out.WorkspaceID,
			EntityID:    out.EntityID,
			Attributes:  out.Attributes,
		})
	}
	for _, out := range result.Rejected {
		resp.Rejected = append(resp.Rejected, bulkOutcome{
			WorkspaceID: out.WorkspaceID,
			EntityID:    out.EntityID,
			Reason:      out.Reason,
		})
	}
	return resp
}
