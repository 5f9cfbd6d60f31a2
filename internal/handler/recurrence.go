package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/timeline/internal/model"
	"github.com/dukerupert/timeline/internal/owner"
	"github.com/dukerupert/timeline/internal/recurrence"
	"github.com/dukerupert/timeline/internal/schederr"
)

type RecurrenceHandler struct {
	service *recurrence.Service
	hub     Broadcaster
	logger  *slog.Logger
}

func NewRecurrenceHandler(service *recurrence.Service, hub Broadcaster, logger *slog.Logger) *RecurrenceHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RecurrenceHandler{service: service, hub: hub, logger: logger}
}

// createSeriesRequest accepts either a rule string such as
// "FREQ=WEEKLY;INTERVAL=2" or frequency and interval fields.
type createSeriesRequest struct {
	Rule           string       `json:"rule"`
	Frequency      string       `json:"frequency"`
	Interval       int          `json:"interval"`
	SkipDates      []model.Date `json:"skip_dates"`
	RecurrenceEnd  *time.Time   `json:"recurrence_end"`
	MaxOccurrences *int         `json:"max_occurrences"`
}

type skipDatesRequest struct {
	SkipDates []model.Date `json:"skip_dates"`
}

func (req createSeriesRequest) rule() (recurrence.Rule, error) {
	if req.Rule != "" {
		if req.Frequency != "" || req.Interval != 0 {
			return recurrence.Rule{}, schederr.Validation("rule", "give either rule or frequency and interval, not both")
		}
		return recurrence.ParseRule(req.Rule)
	}
	freq, err := recurrence.ParseFrequency(req.Frequency)
	if err != nil {
		return recurrence.Rule{}, err
	}
	interval := req.Interval
	if interval == 0 {
		interval = recurrence.MinInterval
	}
	return recurrence.Rule{Frequency: freq, Interval: interval}, nil
}

func (h *RecurrenceHandler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())

	var req createSeriesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rule, err := req.rule()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	series, err := h.service.CreateSeries(r.Context(), ownerID, r.PathValue("id"), recurrence.SeriesSpec{
		Rule:           rule,
		SkipDates:      req.SkipDates,
		RecurrenceEnd:  req.RecurrenceEnd,
		MaxOccurrences: req.MaxOccurrences,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, ownerID, "recurrence_created", series.Root.ID, map[string]any{"rule": series.Rule})
	writeJSON(w, http.StatusCreated, series)
}

// Expand runs count recurrence steps; count defaults to 1.
func (h *RecurrenceHandler) Expand(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())

	count, err := queryInt(r, "count", 1)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.service.Expand(r.Context(), ownerID, r.PathValue("id"), count)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if len(res.Instances) > 0 {
		broadcast(h.hub, ownerID, "recurrence_expanded", r.PathValue("id"), map[string]any{"created": len(res.Instances)})
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *RecurrenceHandler) Next(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())
	t, err := h.service.GenerateNext(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, ownerID, "created", t.ID, map[string]any{"recurrence_parent_id": r.PathValue("id")})
	writeJSON(w, http.StatusCreated, t)
}

func (h *RecurrenceHandler) UpdateSkipDates(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())

	var req skipDatesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pattern, err := h.service.UpdateSkipDates(r.Context(), ownerID, r.PathValue("id"), req.SkipDates)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, ownerID, "recurrence_updated", r.PathValue("id"), nil)
	writeJSON(w, http.StatusOK, pattern)
}

func (h *RecurrenceHandler) Detach(w http.ResponseWriter, r *http.Request) {
	ownerID := owner.ID(r.Context())
	t, err := h.service.Detach(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	broadcast(h.hub, ownerID, "detached", t.ID, nil)
	writeJSON(w, http.StatusOK, t)
}
