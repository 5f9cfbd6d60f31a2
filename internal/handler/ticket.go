package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/timeline/internal/clock"
	"github.com/dukerupert/timeline/internal/hierarchy"
	"github.com/dukerupert/timeline/internal/model"
	"github.com/dukerupert/timeline/internal/owner"
	"github.com/dukerupert/timeline/internal/schederr"
)

type TicketStore interface {
	Create(ctx context.Context, spec model.TicketSpec) (*model.Ticket, error)
	GetByID(ctx context.Context, id string) (*model.Ticket, error)
	Update(ctx context.Context, id string, patch model.TicketPatch) (*model.Ticket, error)
}

type TicketHandler struct {
	store      TicketStore
	manager    *hierarchy.Manager
	hub        Broadcaster
	invalidate func(ownerID string)
	clock      clock.Clock
	logger     *slog.Logger
}

// NewTicketHandler wires plain ticket CRUD. invalidate runs after every
// write the handler makes to the store directly.
func NewTicketHandler(store TicketStore, manager *hierarchy.Manager, hub Broadcaster, invalidate func(string), clk clock.Clock, logger *slog.Logger) *TicketHandler {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &TicketHandler{store: store, manager: manager, hub: hub, invalidate: invalidate, clock: clk, logger: logger}
}

type createTicketRequest struct {
	Title                      string           `json:"title"`
	Description                string           `json:"description"`
	TypeID                     string           `json:"type_id"`
	StartTime                  time.Time        `json:"start_time"`
	EndTime                    time.Time        `json:"end_time"`
	Lane                       *int             `json:"lane"`
	CustomProperties           model.Properties `json:"custom_properties"`
	AutoCompleteOnChildrenDone bool             `json:"auto_complete_on_children_done"`
}

// patchTicketRequest lists the fields a client may change directly.
// Hierarchy and recurrence links have their own endpoints. A negative lane
// clears the hint.
type patchTicketRequest struct {
	Title            *string           `json:"title"`
	Description      *string           `json:"description"`
	TypeID           *string           `json:"type_id"`
	StartTime        *time.Time        `json:"start_time"`
	EndTime          *time.Time        `json:"end_time"`
	Lane             *int              `json:"lane"`
	Confirmed        *bool             `json:"confirmed"`
	CustomProperties *model.Properties `json:"custom_properties"`
}

func (h *TicketHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())

	var req createTicketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, r, h.logger, schederr.Validation("title", "title is required"))
		return
	}
	if req.Lane != nil && *req.Lane < 0 {
		writeError(w, r, h.logger, schederr.Validation("lane", "lane must not be negative"))
		return
	}

	t, err := h.store.Create(r.Context(), model.TicketSpec{
		OwnerID:                    ownerID,
		Title:                      req.Title,
		Description:                req.Description,
		TypeID:                     req.TypeID,
		StartTime:                  req.StartTime,
		EndTime:                    req.EndTime,
		Lane:                       req.Lane,
		CustomProperties:           req.CustomProperties,
		AutoCompleteOnChildrenDone: req.AutoCompleteOnChildrenDone,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.invalidate(ownerID)
	broadcast(h.hub, ownerID, "created", t.ID, nil)
	writeJSON(w, http.StatusCreated, model.WithStatus(*t, h.clock.Now()))
}

func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.load(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.WithStatus(*t, h.clock.Now()))
}

func (h *TicketHandler) Update(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())
	t, err := h.load(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req patchTicketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, r, h.logger, schederr.Validation("title", "title must not be empty"))
			return
		}
		req.Title = &title
	}

	patch := model.TicketPatch{
		Title:            req.Title,
		Description:      req.Description,
		TypeID:           req.TypeID,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		Lane:             req.Lane,
		CustomProperties: req.CustomProperties,
	}
	// Confirming goes through the hierarchy so ancestors can auto-complete.
	confirm := req.Confirmed != nil && *req.Confirmed
	if req.Confirmed != nil && !confirm {
		patch.Confirmed = req.Confirmed
	}

	updated, err := h.store.Update(r.Context(), t.ID, patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if updated == nil {
		writeError(w, r, h.logger, schederr.NotFound("ticket", t.ID))
		return
	}
	h.invalidate(ownerID)

	var extra map[string]any
	if confirm {
		res, err := h.manager.Complete(r.Context(), ownerID, t.ID)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		updated = &res.Ticket
		extra = map[string]any{"confirmed": res.Confirmed}
	}

	broadcast(h.hub, ownerID, "updated", t.ID, extra)
	writeJSON(w, http.StatusOK, model.WithStatus(*updated, h.clock.Now()))
}

// Delete removes the ticket together with its subtree.
func (h *TicketHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())
	res, err := h.manager.Delete(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	broadcast(h.hub, ownerID, "deleted", r.PathValue("id"), map[string]any{
		"deleted":   res.Deleted,
		"confirmed": res.Confirmed,
	})
	writeJSON(w, http.StatusOK, res)
}

// load fetches the path ticket and checks that the caller owns it.
func (h *TicketHandler) load(r *http.Request) (*model.Ticket, error) {
	id := r.PathValue("id")
	t, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, schederr.NotFound("ticket", id)
	}
	if t.OwnerID != owner.ID(r.Context()) {
		return nil, schederr.Forbidden(id)
	}
	return t, nil
}
