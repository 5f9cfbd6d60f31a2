package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/timeline/internal/hierarchy"
	"github.com/dukerupert/timeline/internal/model"
	"github.com/dukerupert/timeline/internal/owner"
	"github.com/dukerupert/timeline/internal/schederr"
)

type HierarchyHandler struct {
	manager *hierarchy.Manager
	hub     Broadcaster
	logger  *slog.Logger
}

func NewHierarchyHandler(manager *hierarchy.Manager, hub Broadcaster, logger *slog.Logger) *HierarchyHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HierarchyHandler{manager: manager, hub: hub, logger: logger}
}

type createChildRequest struct {
	Title                      string           `json:"title"`
	Description                string           `json:"description"`
	StartTime                  time.Time        `json:"start_time"`
	EndTime                    time.Time        `json:"end_time"`
	Lane                       *int             `json:"lane"`
	CustomProperties           model.Properties `json:"custom_properties"`
	InheritCustomProperties    []string         `json:"inherit_custom_properties"`
	AutoCompleteOnChildrenDone bool             `json:"auto_complete_on_children_done"`
}

type moveRequest struct {
	NewParentID *string `json:"new_parent_id"`
}

type completionSettingsRequest struct {
	AutoCompleteOnChildrenDone *bool `json:"auto_complete_on_children_done"`
}

func (h *HierarchyHandler) CreateChild(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())

	var req createChildRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, r, h.logger, schederr.Validation("title", "title is required"))
		return
	}

	child, err := h.manager.CreateChild(r.Context(), ownerID, r.PathValue("id"), hierarchy.ChildSpec{
		Title:                      req.Title,
		Description:                req.Description,
		StartTime:                  req.StartTime,
		EndTime:                    req.EndTime,
		Lane:                       req.Lane,
		CustomProperties:           req.CustomProperties,
		InheritCustomProperties:    req.InheritCustomProperties,
		AutoCompleteOnChildrenDone: req.AutoCompleteOnChildrenDone,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, ownerID, "created", child.ID, map[string]any{"parent_id": r.PathValue("id")})
	writeJSON(w, http.StatusCreated, child)
}

// Move re-parents the ticket. A null or missing new_parent_id promotes it
// to a root.
func (h *HierarchyHandler) Move(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())

	var req moveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.NewParentID != nil && *req.NewParentID == "" {
		req.NewParentID = nil
	}

	moved, err := h.manager.MoveSubtree(r.Context(), ownerID, r.PathValue("id"), req.NewParentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, ownerID, "moved", moved.ID, map[string]any{"new_parent_id": req.NewParentID})
	writeJSON(w, http.StatusOK, moved)
}

func (h *HierarchyHandler) Progress(w http.ResponseWriter, r *http.Request) {
	p, err := h.manager.Progress(r.Context(), owner.ID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *HierarchyHandler) UpdateCompletionSettings(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())

	var req completionSettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.AutoCompleteOnChildrenDone == nil {
		writeError(w, r, h.logger, schederr.Validation("auto_complete_on_children_done", "auto_complete_on_children_done is required"))
		return
	}

	res, err := h.manager.UpdateCompletionSettings(r.Context(), ownerID, r.PathValue("id"), *req.AutoCompleteOnChildrenDone)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, ownerID, "updated", res.Ticket.ID, map[string]any{"confirmed": res.Confirmed})
	writeJSON(w, http.StatusOK, res)
}

func (h *HierarchyHandler) Complete(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())
	res, err := h.manager.Complete(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, ownerID, "completed", res.Ticket.ID, map[string]any{"confirmed": res.Confirmed})
	writeJSON(w, http.StatusOK, res)
}

// Bulk answers 200 with per-item results even when some items fail.
func (h *HierarchyHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())

	var req hierarchy.BulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.manager.Bulk(r.Context(), ownerID, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if res.Succeeded > 0 {
		broadcast(h.hub, ownerID, "bulk_"+string(req.Op), "", map[string]any{
			"succeeded": res.Succeeded,
			"failed":    res.Failed,
		})
	}
	writeJSON(w, http.StatusOK, res)
}
