package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/timeline/internal/layout"
	"github.com/dukerupert/timeline/internal/owner"
)

type LayoutHandler struct {
	service *layout.Service
	logger  *slog.Logger
}

func NewLayoutHandler(service *layout.Service, logger *slog.Logger) *LayoutHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LayoutHandler{service: service, logger: logger}
}

// Get serves GET /api/layout?view=week&start=...&end=... with RFC 3339
// bounds.
func (h *LayoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := layout.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	start, err := queryTime(r, "start")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.service.Layout(r.Context(), owner.ID(r.Context()), view, start, end)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if res.Metrics.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, res)
}
