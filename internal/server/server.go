package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/timeline/internal/clock"
	"github.com/dukerupert/timeline/internal/database"
	"github.com/dukerupert/timeline/internal/handler"
	"github.com/dukerupert/timeline/internal/hierarchy"
	"github.com/dukerupert/timeline/internal/layout"
	"github.com/dukerupert/timeline/internal/middleware"
	"github.com/dukerupert/timeline/internal/recurrence"
	"github.com/dukerupert/timeline/internal/store"
	ws "github.com/dukerupert/timeline/internal/websocket"
)

// Options tunes the engine and the HTTP surface.
type Options struct {
	Layout              layout.Options
	RecurrenceSafetyCap int
	RateLimit           int
	RateWindow          time.Duration
	OriginPatterns      []string
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	layout      *layout.Service
	ticketH     *handler.TicketHandler
	hierarchyH  *handler.HierarchyHandler
	recurrenceH *handler.RecurrenceHandler
	layoutH     *handler.LayoutHandler
	rateLimiter *middleware.RateLimiter
	opts        Options
	logger      *slog.Logger
}

func New(db *sql.DB, opts Options, clk clock.Clock, logger *slog.Logger) *Server {
	if clk == nil {
		clk = clock.Real()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 120
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}

	hub := ws.NewHub(logger.With("component", "websocket"))

	ticketStore := store.NewTicketStore(db, clk)
	patternStore := store.NewPatternStore(db, clk)

	// Every engine mutation drops the owner's cached layouts.
	var layoutSvc *layout.Service
	invalidate := func(ownerID string) {
		n := layoutSvc.Invalidate(ownerID)
		logger.Debug("layout cache purged", "owner", ownerID, "entries", n)
	}

	manager := hierarchy.NewManager(ticketStore, clk, logger.With("component", "hierarchy"), invalidate)
	series := recurrence.NewService(ticketStore, patternStore, clk, logger.With("component", "recurrence"), invalidate)
	series.SetSafetyCap(opts.RecurrenceSafetyCap)
	layoutSvc = layout.NewService(ticketStore, series, opts.Layout, clk, logger.With("component", "layout"))

	return &Server{
		db:          db,
		hub:         hub,
		layout:      layoutSvc,
		ticketH:     handler.NewTicketHandler(ticketStore, manager, hub, invalidate, clk, logger.With("component", "ticket")),
		hierarchyH:  handler.NewHierarchyHandler(manager, hub, logger.With("component", "hierarchy_handler")),
		recurrenceH: handler.NewRecurrenceHandler(series, hub, logger.With("component", "recurrence_handler")),
		layoutH:     handler.NewLayoutHandler(layoutSvc, logger.With("component", "layout_handler")),
		rateLimiter: middleware.NewRateLimiter(clk),
		opts:        opts,
		logger:      logger,
	}
}

// Sweep drops expired cache entries and rate-limit windows. The binary
// runs it on a ticker.
func (s *Server) Sweep() {
	cached := s.layout.Sweep()
	limits := s.rateLimiter.Cleanup()
	if cached > 0 || limits > 0 {
		s.logger.Debug("sweep", "cache_entries", cached, "rate_limit_keys", limits)
	}
}

// Close disconnects websocket clients.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Everything else needs an owner.
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)
	outerMux.Handle("/", middleware.RequireOwner(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

type healthResponse struct {
	Status           string `json:"status"`
	SchemaVersion    int64  `json:"schema_version"`
	CacheEntries     int    `json:"cache_entries"`
	WebSocketClients int    `json:"websocket_clients"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	version, err := database.SchemaVersion(ctx, s.db)
	if err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}

	stats := s.layout.CacheStats()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(healthResponse{
		Status:           status,
		SchemaVersion:    version,
		CacheEntries:     stats.Entries,
		WebSocketClients: s.hub.TotalClients(),
	})
}

func (s *Server) limited(h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.OwnerKey, s.opts.RateLimit, s.opts.RateWindow)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Tickets
	mux.Handle("POST /api/tickets", s.limited(s.ticketH.Create))
	mux.HandleFunc("GET /api/tickets/{id}", s.ticketH.Get)
	mux.Handle("PATCH /api/tickets/{id}", s.limited(s.ticketH.Update))
	mux.Handle("DELETE /api/tickets/{id}", s.limited(s.ticketH.Delete))

	// Layout
	mux.HandleFunc("GET /api/layout", s.layoutH.Get)

	// Hierarchy
	mux.Handle("POST /api/tickets/{id}/children", s.limited(s.hierarchyH.CreateChild))
	mux.Handle("POST /api/tickets/{id}/move", s.limited(s.hierarchyH.Move))
	mux.HandleFunc("GET /api/tickets/{id}/progress", s.hierarchyH.Progress)
	mux.Handle("PUT /api/tickets/{id}/completion-settings", s.limited(s.hierarchyH.UpdateCompletionSettings))
	mux.Handle("POST /api/tickets/{id}/complete", s.limited(s.hierarchyH.Complete))
	mux.Handle("POST /api/tickets/bulk", s.limited(s.hierarchyH.Bulk))

	// Recurrence
	mux.Handle("POST /api/tickets/{id}/recurrence", s.limited(s.recurrenceH.CreateSeries))
	mux.Handle("POST /api/tickets/{id}/recurrence/expand", s.limited(s.recurrenceH.Expand))
	mux.Handle("POST /api/tickets/{id}/recurrence/next", s.limited(s.recurrenceH.Next))
	mux.Handle("PUT /api/tickets/{id}/recurrence/skip-dates", s.limited(s.recurrenceH.UpdateSkipDates))
	mux.Handle("POST /api/tickets/{id}/detach", s.limited(s.recurrenceH.Detach))

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.opts.OriginPatterns, s.logger.With("component", "websocket_handler")))
}
