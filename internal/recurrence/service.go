package recurrence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukerupert/timeline/internal/clock"
	"github.com/dukerupert/timeline/internal/model"
	"github.com/dukerupert/timeline/internal/schederr"
)

// TicketStore is the subset of ticket persistence the series service needs.
type TicketStore interface {
	GetByID(ctx context.Context, id string) (*model.Ticket, error)
	Create(ctx context.Context, spec model.TicketSpec) (*model.Ticket, error)
	Update(ctx context.Context, id string, patch model.TicketPatch) (*model.Ticket, error)
	ListSeriesRoots(ctx context.Context, ownerID string) ([]model.Ticket, error)
}

type PatternStore interface {
	Create(ctx context.Context, p model.RecurrencePattern) (*model.RecurrencePattern, error)
	GetByID(ctx context.Context, id string) (*model.RecurrencePattern, error)
	UpdateSkipDates(ctx context.Context, id string, dates []model.Date) (*model.RecurrencePattern, error)
	RecordGenerated(ctx context.Context, id string, n int, last time.Time) error
	Delete(ctx context.Context, id string) error
}

// ChangeFunc is called with the owner whose tickets were mutated.
type ChangeFunc func(ownerID string)

type Service struct {
	// genMu serializes runs that read and advance a series' progress.
	genMu sync.Mutex

	tickets   TicketStore
	patterns  PatternStore
	clock     clock.Clock
	logger    *slog.Logger
	onChange  ChangeFunc
	safetyCap int
}

func NewService(tickets TicketStore, patterns PatternStore, clk clock.Clock, logger *slog.Logger, onChange ChangeFunc) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		tickets:   tickets,
		patterns:  patterns,
		clock:     clk,
		logger:    logger,
		onChange:  onChange,
		safetyCap: MaxSteps,
	}
}

// SetSafetyCap changes the per-run step bound. Values below 1 are ignored.
func (s *Service) SetSafetyCap(n int) {
	if n > 0 {
		s.safetyCap = n
	}
}

type SeriesSpec struct {
	Rule           Rule
	SkipDates      []model.Date
	RecurrenceEnd  *time.Time
	MaxOccurrences *int
}

type Series struct {
	Root        model.Ticket            `json:"root"`
	Pattern     model.RecurrencePattern `json:"pattern"`
	Rule        string                  `json:"rule"`
	Description string                  `json:"description"`
}

type ExpandResult struct {
	Instances []model.Ticket `json:"instances"`
	Exhausted bool           `json:"exhausted"`
	Reason    ExhaustReason  `json:"reason,omitempty"`
}

// CreateSeries turns rootID into the root of a recurring series.
func (s *Service) CreateSeries(ctx context.Context, ownerID, rootID string, spec SeriesSpec) (*Series, error) {
	root, err := s.loadOwned(ctx, ownerID, rootID)
	if err != nil {
		return nil, err
	}
	if root.IsInstance() {
		return nil, schederr.Validation("recurrence_parent_id", "a recurrence instance cannot start a series").WithIDs(root.ID)
	}
	if root.IsRecurring {
		return nil, schederr.Validation("is_recurring", "ticket already has a recurrence").WithIDs(root.ID)
	}
	if err := spec.Rule.Validate(); err != nil {
		return nil, err
	}
	if spec.MaxOccurrences != nil && *spec.MaxOccurrences < 1 {
		return nil, schederr.Validation("max_occurrences", "max_occurrences must be at least 1")
	}
	if spec.RecurrenceEnd != nil && spec.RecurrenceEnd.Before(root.StartTime) {
		return nil, schederr.Validation("recurrence_end", "recurrence_end must not be before the series start")
	}

	pattern, err := s.patterns.Create(ctx, model.RecurrencePattern{
		Frequency: spec.Rule.Frequency,
		Interval:  spec.Rule.Interval,
		SkipDates: normalizeDates(spec.SkipDates),
	})
	if err != nil {
		return nil, fmt.Errorf("create recurrence pattern: %w", err)
	}

	recurring := true
	updated, err := s.tickets.Update(ctx, root.ID, model.TicketPatch{
		IsRecurring:    &recurring,
		RecurrenceID:   &pattern.ID,
		RecurrenceEnd:  spec.RecurrenceEnd,
		MaxOccurrences: spec.MaxOccurrences,
	})
	if err != nil {
		if delErr := s.patterns.Delete(ctx, pattern.ID); delErr != nil {
			s.logger.Error("orphaned recurrence pattern", "pattern_id", pattern.ID, "error", delErr)
		}
		return nil, fmt.Errorf("mark series root: %w", err)
	}

	s.logger.Info("series created", "owner_id", ownerID, "root_id", root.ID, "rule", spec.Rule.String())
	s.notify(ownerID)

	return &Series{
		Root:        model.WithStatus(*updated, s.clock.Now()),
		Pattern:     *pattern,
		Rule:        spec.Rule.String(),
		Description: spec.Rule.Describe(),
	}, nil
}

// Expand generates up to steps further occurrences of the series. Reaching
// the series' end is reported in the result, not as an error.
func (s *Service) Expand(ctx context.Context, ownerID, rootID string, steps int) (*ExpandResult, error) {
	if steps < 1 {
		return nil, schederr.Validation("count", "count must be at least 1")
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()

	root, pattern, err := s.loadSeries(ctx, ownerID, rootID)
	if err != nil {
		return nil, err
	}
	lim := s.limits(root, pattern)
	lim.Steps = steps

	out := GenerateUpTo(root.StartTime, ruleOf(pattern), lim)
	instances, err := s.createInstances(ctx, root, pattern, out.Dates)
	if err != nil {
		return nil, err
	}

	return &ExpandResult{Instances: instances, Exhausted: out.Exhausted, Reason: out.Reason}, nil
}

// GenerateNext creates the next non-skipped occurrence. A series that has
// ended is rejected with KindRecurrenceExhausted.
func (s *Service) GenerateNext(ctx context.Context, ownerID, rootID string) (*model.Ticket, error) {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	root, pattern, err := s.loadSeries(ctx, ownerID, rootID)
	if err != nil {
		return nil, err
	}
	lim := s.limits(root, pattern)
	lim.Want = 1

	out := GenerateUpTo(root.StartTime, ruleOf(pattern), lim)
	if len(out.Dates) == 0 {
		return nil, schederr.Newf(schederr.KindRecurrenceExhausted, "series has ended (%s)", out.Reason).WithIDs(root.ID)
	}

	instances, err := s.createInstances(ctx, root, pattern, out.Dates)
	if err != nil {
		return nil, err
	}
	return &instances[0], nil
}

// UpdateSkipDates replaces the series' skip set.
func (s *Service) UpdateSkipDates(ctx context.Context, ownerID, rootID string, dates []model.Date) (*model.RecurrencePattern, error) {
	_, pattern, err := s.loadSeries(ctx, ownerID, rootID)
	if err != nil {
		return nil, err
	}
	updated, err := s.patterns.UpdateSkipDates(ctx, pattern.ID, normalizeDates(dates))
	if err != nil {
		return nil, fmt.Errorf("update skip dates: %w", err)
	}
	s.notify(ownerID)
	return updated, nil
}

// Detach removes an instance from its series without deleting it.
func (s *Service) Detach(ctx context.Context, ownerID, instanceID string) (*model.Ticket, error) {
	t, err := s.loadOwned(ctx, ownerID, instanceID)
	if err != nil {
		return nil, err
	}
	if !t.IsInstance() {
		return nil, schederr.Validation("recurrence_parent_id", "ticket is not a recurrence instance").WithIDs(t.ID)
	}

	none := ""
	updated, err := s.tickets.Update(ctx, t.ID, model.TicketPatch{
		RecurrenceParentID: &none,
		RecurrenceID:       &none,
	})
	if err != nil {
		return nil, fmt.Errorf("detach instance: %w", err)
	}
	s.notify(ownerID)
	return ptr(model.WithStatus(*updated, s.clock.Now())), nil
}

// Replenish generates the owner's missing instances that start before
// until. It returns how many instances were created.
func (s *Service) Replenish(ctx context.Context, ownerID string, until time.Time) (int, error) {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	roots, err := s.tickets.ListSeriesRoots(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list series roots: %w", err)
	}

	created := 0
	for i := range roots {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		root := &roots[i]
		if root.RecurrenceID == nil {
			continue
		}
		pattern, err := s.patterns.GetByID(ctx, *root.RecurrenceID)
		if err != nil {
			return created, fmt.Errorf("get recurrence pattern: %w", err)
		}
		if pattern == nil {
			s.logger.Warn("series root without pattern", "root_id", root.ID, "pattern_id", *root.RecurrenceID)
			continue
		}

		lim := s.limits(root, pattern)
		lim.Horizon = &until

		out := GenerateUpTo(root.StartTime, ruleOf(pattern), lim)
		if len(out.Dates) == 0 {
			continue
		}
		instances, err := s.createInstancesQuiet(ctx, root, pattern, out.Dates)
		created += len(instances)
		if err != nil {
			return created, err
		}
	}

	if created > 0 {
		s.logger.Debug("series replenished", "owner_id", ownerID, "created", created, "until", until)
		s.notify(ownerID)
	}
	return created, nil
}

func (s *Service) createInstances(ctx context.Context, root *model.Ticket, pattern *model.RecurrencePattern, dates []time.Time) ([]model.Ticket, error) {
	instances, err := s.createInstancesQuiet(ctx, root, pattern, dates)
	if len(instances) > 0 {
		s.notify(root.OwnerID)
	}
	return instances, err
}

func (s *Service) createInstancesQuiet(ctx context.Context, root *model.Ticket, pattern *model.RecurrencePattern, dates []time.Time) ([]model.Ticket, error) {
	now := s.clock.Now()
	duration := root.Duration()
	instances := make([]model.Ticket, 0, len(dates))

	for _, start := range dates {
		t, err := s.tickets.Create(ctx, model.TicketSpec{
			OwnerID:            root.OwnerID,
			Title:              root.Title,
			Description:        root.Description,
			TypeID:             root.TypeID,
			StartTime:          start,
			EndTime:            start.Add(duration),
			CustomProperties:   append(model.Properties(nil), root.CustomProperties...),
			RecurrenceID:       &pattern.ID,
			RecurrenceParentID: &root.ID,
		})
		if err != nil {
			return instances, errors.Join(fmt.Errorf("create recurrence instance: %w", err), s.record(ctx, pattern, instances))
		}
		instances = append(instances, model.WithStatus(*t, now))
	}
	return instances, s.record(ctx, pattern, instances)
}

// record advances the pattern's progress past instances, so detaching or
// deleting one never makes its occurrence available again.
func (s *Service) record(ctx context.Context, pattern *model.RecurrencePattern, instances []model.Ticket) error {
	if len(instances) == 0 {
		return nil
	}
	last := instances[len(instances)-1].StartTime
	if err := s.patterns.RecordGenerated(ctx, pattern.ID, len(instances), last); err != nil {
		return err
	}
	pattern.GeneratedCount += len(instances)
	if pattern.LastOccurrence == nil || last.After(*pattern.LastOccurrence) {
		pattern.LastOccurrence = &last
	}
	return nil
}

// limits resumes the series from the pattern's recorded progress, not from
// the instances still linked to the root.
func (s *Service) limits(root *model.Ticket, pattern *model.RecurrencePattern) Limits {
	lim := Limits{
		After:     root.StartTime,
		Until:     root.RecurrenceEnd,
		Remaining: -1,
		SkipDates: pattern.SkipSet(),
		SafetyCap: s.safetyCap,
	}
	if root.MaxOccurrences != nil {
		lim.Remaining = max(*root.MaxOccurrences-pattern.GeneratedCount, 0)
	}
	if last := pattern.LastOccurrence; last != nil && last.After(lim.After) {
		lim.After = *last
	}
	return lim
}

func (s *Service) loadOwned(ctx context.Context, ownerID, id string) (*model.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	if t == nil {
		return nil, schederr.NotFound("ticket", id)
	}
	if t.OwnerID != ownerID {
		return nil, schederr.Forbidden(id)
	}
	return t, nil
}

func (s *Service) loadSeries(ctx context.Context, ownerID, rootID string) (*model.Ticket, *model.RecurrencePattern, error) {
	root, err := s.loadOwned(ctx, ownerID, rootID)
	if err != nil {
		return nil, nil, err
	}
	if !root.IsRecurring || root.RecurrenceID == nil {
		return nil, nil, schederr.Validation("is_recurring", "ticket is not a series root").WithIDs(root.ID)
	}
	pattern, err := s.patterns.GetByID(ctx, *root.RecurrenceID)
	if err != nil {
		return nil, nil, fmt.Errorf("get recurrence pattern: %w", err)
	}
	if pattern == nil {
		return nil, nil, schederr.NotFound("recurrence pattern", *root.RecurrenceID)
	}
	return root, pattern, nil
}

func (s *Service) notify(ownerID string) {
	if s.onChange != nil {
		s.onChange(ownerID)
	}
}

func ruleOf(p *model.RecurrencePattern) Rule {
	return Rule{Frequency: p.Frequency, Interval: p.Interval}
}

// normalizeDates sorts dates and drops duplicates.
func normalizeDates(dates []model.Date) []model.Date {
	out := slices.Clone(dates)
	slices.SortFunc(out, func(a, b model.Date) int {
		return a.Compare(b)
	})
	return slices.Compact(out)
}

func ptr[T any](v T) *T { return &v }
