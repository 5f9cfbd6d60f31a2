// Package hierarchy maintains the bounded-depth parent/child ticket forest:
// child creation, subtree moves, completion progress and cascading
// auto-completion.
package hierarchy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/dukerupert/timeline/internal/clock"
	"github.com/dukerupert/timeline/internal/model"
	"github.com/dukerupert/timeline/internal/schederr"
)

// MaxNestingLevel is the deepest level a ticket may sit at. Roots are 0.
const MaxNestingLevel = 3

type Store interface {
	GetByID(ctx context.Context, id string) (*model.Ticket, error)
	ListChildren(ctx context.Context, parentID string) ([]model.Ticket, error)
	Create(ctx context.Context, spec model.TicketSpec) (*model.Ticket, error)
	Update(ctx context.Context, id string, patch model.TicketPatch) (*model.Ticket, error)
	Delete(ctx context.Context, id string) error
}

// ChangeFunc is called with the owner whose tickets were mutated.
type ChangeFunc func(ownerID string)

type Manager struct {
	store    Store
	clock    clock.Clock
	logger   *slog.Logger
	onChange ChangeFunc
}

func NewManager(store Store, clk clock.Clock, logger *slog.Logger, onChange ChangeFunc) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{store: store, clock: clk, logger: logger, onChange: onChange}
}

type ChildSpec struct {
	Title                      string
	Description                string
	StartTime                  time.Time
	EndTime                    time.Time
	Lane                       *int
	CustomProperties           model.Properties
	InheritCustomProperties    []string
	AutoCompleteOnChildrenDone bool
}

type Progress struct {
	Completed       int  `json:"completed"`
	Total           int  `json:"total"`
	Percentage      int  `json:"percentage"`
	CanAutoComplete bool `json:"can_auto_complete"`
}

// CompletionResult lists every ticket confirmed by one call, in the order
// they were confirmed.
type CompletionResult struct {
	Ticket    model.Ticket `json:"ticket"`
	Confirmed []string     `json:"confirmed"`
}

type DeleteResult struct {
	Deleted   []string `json:"deleted"`
	Confirmed []string `json:"confirmed"`
}

// CreateChild creates a ticket one level below parentID. The child takes
// the parent's type and only the parent properties named in
// spec.InheritCustomProperties; its own properties win on conflict.
func (m *Manager) CreateChild(ctx context.Context, ownerID, parentID string, spec ChildSpec) (*model.Ticket, error) {
	parent, err := m.loadOwned(ctx, ownerID, parentID)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateRange(spec.StartTime, spec.EndTime); err != nil {
		return nil, err
	}
	if parent.NestingLevel >= MaxNestingLevel {
		return nil, schederr.Newf(schederr.KindMaxNestingExceeded,
			"ticket is at nesting level %d; children may not go deeper than %d", parent.NestingLevel, MaxNestingLevel).
			WithIDs(parent.ID)
	}

	order, err := m.nextChildOrder(ctx, parent.ID)
	if err != nil {
		return nil, err
	}

	child, err := m.store.Create(ctx, model.TicketSpec{
		OwnerID:                    parent.OwnerID,
		Title:                      spec.Title,
		Description:                spec.Description,
		TypeID:                     parent.TypeID,
		StartTime:                  spec.StartTime,
		EndTime:                    spec.EndTime,
		Lane:                       spec.Lane,
		CustomProperties:           parent.CustomProperties.Select(spec.InheritCustomProperties).Merge(spec.CustomProperties),
		HierarchyParentID:          &parent.ID,
		NestingLevel:               parent.NestingLevel + 1,
		ChildOrder:                 order,
		AutoCompleteOnChildrenDone: spec.AutoCompleteOnChildrenDone,
	})
	if err != nil {
		return nil, fmt.Errorf("create child: %w", err)
	}

	m.notify(ownerID)
	return m.withStatus(child), nil
}

// MoveSubtree re-parents ticketID, or promotes it to a root when
// newParentID is nil, and re-stamps the nesting level of its subtree.
func (m *Manager) MoveSubtree(ctx context.Context, ownerID, ticketID string, newParentID *string) (*model.Ticket, error) {
	t, err := m.loadOwned(ctx, ownerID, ticketID)
	if err != nil {
		return nil, err
	}
	forest, err := m.loadSubtree(ctx, t)
	if err != nil {
		return nil, err
	}

	newLevel, order := 0, 0
	if newParentID != nil {
		if *newParentID == t.ID || forest.IsDescendant(t.ID, *newParentID) {
			return nil, schederr.New(schederr.KindCircularDependency,
				"a ticket cannot be moved under itself or one of its descendants").WithIDs(t.ID, *newParentID)
		}
		parent, err := m.loadOwned(ctx, ownerID, *newParentID)
		if err != nil {
			return nil, err
		}
		newLevel = parent.NestingLevel + 1
	}

	height, deepest := forest.Height(t.ID)
	if newLevel+height > MaxNestingLevel {
		return nil, schederr.Newf(schederr.KindNestingLevelExceeded,
			"moving would place a descendant at nesting level %d; the limit is %d", newLevel+height, MaxNestingLevel).
			WithIDs(t.ID, deepest)
	}

	if newParentID != nil {
		if order, err = m.nextChildOrder(ctx, *newParentID); err != nil {
			return nil, err
		}
	}

	parentLink := ""
	if newParentID != nil {
		parentLink = *newParentID
	}
	moved, err := m.store.Update(ctx, t.ID, model.TicketPatch{
		HierarchyParentID: &parentLink,
		NestingLevel:      &newLevel,
		ChildOrder:        &order,
	})
	if err != nil {
		return nil, fmt.Errorf("move ticket: %w", err)
	}

	for id, depth := range forest.Depths(t.ID) {
		if id == t.ID {
			continue
		}
		node, _ := forest.Get(id)
		level := newLevel + depth
		if node.NestingLevel == level {
			continue
		}
		if _, err := m.store.Update(ctx, id, model.TicketPatch{NestingLevel: &level}); err != nil {
			return nil, fmt.Errorf("restamp nesting level: %w", err)
		}
	}

	if t.HierarchyParentID != nil && (newParentID == nil || *t.HierarchyParentID != *newParentID) {
		if _, err := m.settleUpward(ctx, t.HierarchyParentID); err != nil {
			return nil, err
		}
	}

	m.logger.Debug("subtree moved", "ticket_id", t.ID, "new_parent_id", parentLink, "levels", height+1)
	m.notify(ownerID)
	return m.withStatus(moved), nil
}

// Progress reports how many of ticketID's children are done. ACTIVE
// children count as done here, and in CanAutoComplete, but the cascade
// itself waits for every child to be confirmed.
func (m *Manager) Progress(ctx context.Context, ownerID, ticketID string) (*Progress, error) {
	t, err := m.loadOwned(ctx, ownerID, ticketID)
	if err != nil {
		return nil, err
	}
	children, err := m.store.ListChildren(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}

	now := m.clock.Now()
	p := &Progress{Total: len(children)}
	for _, c := range children {
		switch model.DeriveStatus(c, now) {
		case model.StatusPastConfirmed, model.StatusActive:
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Percentage = int(math.Round(float64(p.Completed) / float64(p.Total) * 100))
	}
	p.CanAutoComplete = t.AutoCompleteOnChildrenDone && p.Total > 0 && p.Completed == p.Total
	return p, nil
}

// UpdateCompletionSettings toggles auto-completion. Enabling it on a ticket
// whose children are all confirmed confirms the ticket and cascades.
func (m *Manager) UpdateCompletionSettings(ctx context.Context, ownerID, ticketID string, autoComplete bool) (*CompletionResult, error) {
	t, err := m.loadOwned(ctx, ownerID, ticketID)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.Update(ctx, t.ID, model.TicketPatch{AutoCompleteOnChildrenDone: &autoComplete}); err != nil {
		return nil, fmt.Errorf("update completion settings: %w", err)
	}

	var confirmed []string
	if autoComplete {
		if confirmed, err = m.settleUpward(ctx, &t.ID); err != nil {
			return nil, err
		}
	}

	m.notify(ownerID)
	return m.result(ctx, t.ID, confirmed)
}

// Complete confirms ticketID and cascades auto-completion upward.
func (m *Manager) Complete(ctx context.Context, ownerID, ticketID string) (*CompletionResult, error) {
	t, err := m.loadOwned(ctx, ownerID, ticketID)
	if err != nil {
		return nil, err
	}

	var confirmed []string
	if !t.Confirmed {
		yes := true
		if _, err := m.store.Update(ctx, t.ID, model.TicketPatch{Confirmed: &yes}); err != nil {
			return nil, fmt.Errorf("confirm ticket: %w", err)
		}
		confirmed = append(confirmed, t.ID)
	}

	cascaded, err := m.cascadeAutoCompletion(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	m.notify(ownerID)
	return m.result(ctx, t.ID, append(confirmed, cascaded...))
}

// Delete removes ticketID and its whole subtree, leaves first, then
// re-evaluates the former parent's auto-completion.
func (m *Manager) Delete(ctx context.Context, ownerID, ticketID string) (*DeleteResult, error) {
	t, err := m.loadOwned(ctx, ownerID, ticketID)
	if err != nil {
		return nil, err
	}
	forest, err := m.loadSubtree(ctx, t)
	if err != nil {
		return nil, err
	}

	order := append(forest.Descendants(t.ID), t.ID)
	slices.Reverse(order[:len(order)-1])
	res := &DeleteResult{}
	for _, id := range order {
		if err := m.store.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("delete ticket: %w", err)
		}
		res.Deleted = append(res.Deleted, id)
	}

	if t.HierarchyParentID != nil {
		if res.Confirmed, err = m.settleUpward(ctx, t.HierarchyParentID); err != nil {
			return nil, err
		}
	}

	m.logger.Debug("subtree deleted", "ticket_id", t.ID, "count", len(res.Deleted))
	m.notify(ownerID)
	return res, nil
}

// cascadeAutoCompletion confirms the ancestors of childID that have
// auto-completion enabled and whose children are all confirmed, stopping
// at the first ancestor that does not qualify.
func (m *Manager) cascadeAutoCompletion(ctx context.Context, childID string) ([]string, error) {
	child, err := m.store.GetByID(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	if child == nil {
		return nil, nil
	}
	return m.settleUpward(ctx, child.HierarchyParentID)
}

// settleUpward evaluates id and then its ancestors. An unconfirmed node is
// confirmed when auto-completion is on and every child is PAST_CONFIRMED.
func (m *Manager) settleUpward(ctx context.Context, id *string) ([]string, error) {
	var confirmed []string
	seen := make(map[string]struct{})
	now := m.clock.Now()

	for id != nil {
		if _, loop := seen[*id]; loop {
			break
		}
		seen[*id] = struct{}{}

		node, err := m.store.GetByID(ctx, *id)
		if err != nil {
			return confirmed, fmt.Errorf("get ticket: %w", err)
		}
		if node == nil {
			break
		}

		if !node.Confirmed {
			if !node.AutoCompleteOnChildrenDone {
				break
			}
			children, err := m.store.ListChildren(ctx, node.ID)
			if err != nil {
				return confirmed, fmt.Errorf("list children: %w", err)
			}
			if !allConfirmed(children, now) {
				break
			}
			yes := true
			if _, err := m.store.Update(ctx, node.ID, model.TicketPatch{Confirmed: &yes}); err != nil {
				return confirmed, fmt.Errorf("auto-complete ticket: %w", err)
			}
			confirmed = append(confirmed, node.ID)
			m.logger.Debug("ticket auto-completed", "ticket_id", node.ID)
		}
		id = node.HierarchyParentID
	}
	return confirmed, nil
}

// loadSubtree reads t and everything below it into a Forest.
func (m *Manager) loadSubtree(ctx context.Context, t *model.Ticket) (*Forest, error) {
	forest := NewForest(*t)
	queue := []string{t.ID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := m.store.ListChildren(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("list children: %w", err)
		}
		for _, c := range children {
			if _, dup := forest.Get(c.ID); dup {
				continue
			}
			forest.Add(c)
			queue = append(queue, c.ID)
		}
	}
	return forest, nil
}

func (m *Manager) nextChildOrder(ctx context.Context, parentID string) (int, error) {
	siblings, err := m.store.ListChildren(ctx, parentID)
	if err != nil {
		return 0, fmt.Errorf("list children: %w", err)
	}
	order := len(siblings)
	for _, s := range siblings {
		order = max(order, s.ChildOrder)
	}
	return order + 1, nil
}

func (m *Manager) loadOwned(ctx context.Context, ownerID, id string) (*model.Ticket, error) {
	t, err := m.store.GetByID(ctx, id)
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

func (m *Manager) result(ctx context.Context, id string, confirmed []string) (*CompletionResult, error) {
	t, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	if t == nil {
		return nil, schederr.NotFound("ticket", id)
	}
	return &CompletionResult{Ticket: *m.withStatus(t), Confirmed: confirmed}, nil
}

func (m *Manager) withStatus(t *model.Ticket) *model.Ticket {
	out := model.WithStatus(*t, m.clock.Now())
	return &out
}

func (m *Manager) notify(ownerID string) {
	if m.onChange != nil {
		m.onChange(ownerID)
	}
}

func allConfirmed(children []model.Ticket, now time.Time) bool {
	if len(children) == 0 {
		return false
	}
	for _, c := range children {
		if model.DeriveStatus(c, now) != model.StatusPastConfirmed {
			return false
		}
	}
	return true
}
