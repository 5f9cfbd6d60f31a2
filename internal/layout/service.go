// Package layout turns a ticket range query into lane-assigned, pixel
// positioned timeline rows with conflict annotations. Results are cached
// per owner, view and range.
package layout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dukerupert/timeline/internal/clock"
	"github.com/dukerupert/timeline/internal/lane"
	"github.com/dukerupert/timeline/internal/model"
	"github.com/dukerupert/timeline/internal/rangecache"
	"github.com/dukerupert/timeline/internal/schederr"
)

const (
	DefaultMinWidth = 4.0
	DefaultMaxSpan  = 92 * 24 * time.Hour
)

type Store interface {
	ListByOwnerAndRange(ctx context.Context, ownerID string, start, end time.Time) ([]model.Ticket, error)
}

// Replenisher generates missing recurrence instances before a range is read.
type Replenisher interface {
	Replenish(ctx context.Context, ownerID string, until time.Time) (int, error)
}

type Options struct {
	Scales   map[View]ViewScale
	MinWidth float64
	MaxSpan  time.Duration
	CacheTTL time.Duration
}

type PositionedTicket struct {
	model.Ticket
	Lane         int     `json:"assigned_lane"`
	StartX       float64 `json:"start_x"`
	Width        float64 `json:"width"`
	ClippedStart bool    `json:"clipped_start"`
	ClippedEnd   bool    `json:"clipped_end"`
}

type ViewMetrics struct {
	View            View      `json:"view"`
	RangeStart      time.Time `json:"range_start"`
	RangeEnd        time.Time `json:"range_end"`
	PixelsPerMinute float64   `json:"pixels_per_minute"`
	TotalWidth      float64   `json:"total_width"`
	LaneCount       int       `json:"lane_count"`
	MaxOverlap      int       `json:"max_overlap"`
	TicketCount     int       `json:"ticket_count"`
	ConflictCount   int       `json:"conflict_count"`
	Cached          bool      `json:"cached"`
	ComputedAt      time.Time `json:"computed_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type Result struct {
	Tickets   []PositionedTicket `json:"tickets"`
	Conflicts []lane.Conflict    `json:"conflicts"`
	Metrics   ViewMetrics        `json:"metrics"`
}

type Service struct {
	store       Store
	replenisher Replenisher
	cache       *rangecache.Cache[*Result]
	scales      map[View]ViewScale
	minWidth    float64
	maxSpan     time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// NewService builds a layout service. replenisher may be nil.
func NewService(store Store, replenisher Replenisher, opts Options, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	scales := DefaultScales()
	for v, sc := range opts.Scales {
		scales[v] = sc
	}
	if opts.MinWidth <= 0 {
		opts.MinWidth = DefaultMinWidth
	}
	if opts.MaxSpan <= 0 {
		opts.MaxSpan = DefaultMaxSpan
	}
	return &Service{
		store:       store,
		replenisher: replenisher,
		cache:       rangecache.New[*Result](opts.CacheTTL, clk),
		scales:      scales,
		minWidth:    opts.MinWidth,
		maxSpan:     opts.MaxSpan,
		clock:       clk,
		logger:      logger,
	}
}

// Layout positions the owner's tickets in [start, end). Both bounds are
// floored to the minute.
func (s *Service) Layout(ctx context.Context, ownerID string, view View, start, end time.Time) (*Result, error) {
	scale, ok := s.scales[view]
	if !ok {
		return nil, schederr.Validation("view", fmt.Sprintf("unknown view %q", view))
	}

	key := rangecache.NewKey(ownerID, string(view), start, end)
	if !key.End.After(key.Start) {
		return nil, schederr.Validation("end", "end must be at least a minute after start")
	}
	if key.End.Sub(key.Start) > s.maxSpan {
		return nil, schederr.Validation("end", fmt.Sprintf("range may not exceed %d days", int(s.maxSpan.Hours()/24)))
	}

	// Replenishing purges the owner's entries when it creates instances,
	// so it runs ahead of the cached computation.
	if s.replenisher != nil {
		if _, err := s.replenisher.Replenish(ctx, ownerID, key.End); err != nil {
			s.logger.Warn("replenish recurring series", "owner_id", ownerID, "error", err)
		}
	}

	res, meta, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*Result, error) {
		return s.compute(ctx, ownerID, view, scale, key.Start, key.End)
	})
	if err != nil {
		return nil, err
	}

	out := s.annotate(res, meta)
	s.logger.Debug("layout", "owner_id", ownerID, "view", view, "tickets", out.Metrics.TicketCount, "cached", meta.Cached)
	return out, nil
}

// Invalidate drops every cached layout of the owner.
func (s *Service) Invalidate(ownerID string) int {
	return s.cache.Purge(ownerID)
}

// Sweep drops expired cache entries.
func (s *Service) Sweep() int {
	return s.cache.Sweep()
}

func (s *Service) CacheStats() rangecache.Stats {
	return s.cache.Stats()
}

func (s *Service) compute(ctx context.Context, ownerID string, view View, scale ViewScale, start, end time.Time) (*Result, error) {
	tickets, err := s.store.ListByOwnerAndRange(ctx, ownerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}

	visible := make(map[string]model.Ticket, len(tickets))
	intervals := make([]lane.Interval, 0, len(tickets))
	for _, t := range tickets {
		if !t.EndTime.After(start) || !t.StartTime.Before(end) {
			continue
		}
		visible[t.ID] = t
		intervals = append(intervals, lane.Interval{ID: t.ID, Start: t.StartTime, End: t.EndTime, Hint: t.Lane})
	}

	placements, laneCount := lane.Assign(intervals)
	ppm := PixelsPerMinute(scale, start, end)

	res := &Result{
		Tickets:   make([]PositionedTicket, 0, len(placements)),
		Conflicts: lane.Conflicts(intervals),
	}
	for _, p := range placements {
		span, ok := lane.Position(p.Start, p.End, start, end, ppm, s.minWidth)
		if !ok {
			continue
		}
		res.Tickets = append(res.Tickets, PositionedTicket{
			Ticket:       visible[p.ID],
			Lane:         p.Lane,
			StartX:       span.X,
			Width:        span.Width,
			ClippedStart: span.ClippedStart,
			ClippedEnd:   span.ClippedEnd,
		})
	}
	if res.Conflicts == nil {
		res.Conflicts = []lane.Conflict{}
	}

	res.Metrics = ViewMetrics{
		View:            view,
		RangeStart:      start,
		RangeEnd:        end,
		PixelsPerMinute: ppm,
		TotalWidth:      end.Sub(start).Minutes() * ppm,
		LaneCount:       laneCount,
		MaxOverlap:      lane.MaxOverlap(intervals),
		TicketCount:     len(res.Tickets),
		ConflictCount:   len(res.Conflicts),
		ComputedAt:      s.clock.Now(),
	}
	return res, nil
}

// annotate copies a cached result, re-deriving statuses for the current
// time. Positions are left untouched.
func (s *Service) annotate(res *Result, meta rangecache.Meta) *Result {
	now := s.clock.Now()
	out := &Result{
		Tickets:   make([]PositionedTicket, len(res.Tickets)),
		Conflicts: res.Conflicts,
		Metrics:   res.Metrics,
	}
	for i, pt := range res.Tickets {
		pt.Ticket = model.WithStatus(pt.Ticket, now)
		out.Tickets[i] = pt
	}
	out.Metrics.Cached = meta.Cached
	out.Metrics.ExpiresAt = meta.ExpiresAt
	return out
}
