package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/timeline/internal/clock"
	"github.com/dukerupert/timeline/internal/model"
)

const ticketColumns = `id, owner_id, title, description, type_id, start_at, end_at, confirmed, lane,
	custom_properties, parent_id, nesting_level, child_order, auto_complete, is_recurring,
	recurrence_id, recurrence_parent_id, recurrence_end, max_occurrences, created_at, updated_at`

type TicketStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewTicketStore(db *sql.DB, clk clock.Clock) *TicketStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &TicketStore{db: db, clock: clk}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *TicketStore) Create(ctx context.Context, spec model.TicketSpec) (*model.Ticket, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	props, err := json.Marshal(spec.CustomProperties)
	if err != nil {
		return nil, fmt.Errorf("encode custom properties: %w", err)
	}

	id := uuid.NewString()
	now := s.clock.Now().UnixNano()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, owner_id, title, description, type_id, start_at, end_at, lane,
			custom_properties, parent_id, nesting_level, child_order, auto_complete,
			recurrence_id, recurrence_parent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, spec.OwnerID, spec.Title, spec.Description, spec.TypeID,
		spec.StartTime.UnixNano(), spec.EndTime.UnixNano(), nullInt(spec.Lane),
		string(props), nullString(spec.HierarchyParentID), spec.NestingLevel, spec.ChildOrder,
		boolInt(spec.AutoCompleteOnChildrenDone),
		nullString(spec.RecurrenceID), nullString(spec.RecurrenceParentID), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID returns nil, nil when no ticket has the id.
func (s *TicketStore) GetByID(ctx context.Context, id string) (*model.Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ticket: %w", err)
	}
	return t, nil
}

// ListByOwnerAndRange returns the owner's tickets overlapping [start, end),
// ordered by start time.
func (s *TicketStore) ListByOwnerAndRange(ctx context.Context, ownerID string, start, end time.Time) ([]model.Ticket, error) {
	return s.list(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE owner_id = ? AND start_at < ? AND end_at > ?
		 ORDER BY start_at ASC, id ASC`,
		ownerID, end.UnixNano(), start.UnixNano(),
	)
}

func (s *TicketStore) ListChildren(ctx context.Context, parentID string) ([]model.Ticket, error) {
	return s.list(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE parent_id = ? ORDER BY child_order ASC, id ASC`,
		parentID,
	)
}

// ListSeriesRoots returns the owner's recurring tickets.
func (s *TicketStore) ListSeriesRoots(ctx context.Context, ownerID string) ([]model.Ticket, error) {
	return s.list(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE owner_id = ? AND is_recurring = 1
		 ORDER BY start_at ASC, id ASC`,
		ownerID,
	)
}

// Update applies patch to the ticket and returns the stored result. The
// patched time range is validated before anything is written. A missing
// ticket yields nil, nil.
func (s *TicketStore) Update(ctx context.Context, id string, patch model.TicketPatch) (*model.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update ticket: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTicket(tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ticket: %w", err)
	}

	patch.Apply(t)
	if err := model.ValidateRange(t.StartTime, t.EndTime); err != nil {
		return nil, err
	}

	props, err := json.Marshal(t.CustomProperties)
	if err != nil {
		return nil, fmt.Errorf("encode custom properties: %w", err)
	}

	var recurrenceEnd sql.NullInt64
	if t.RecurrenceEnd != nil {
		recurrenceEnd = sql.NullInt64{Int64: t.RecurrenceEnd.UnixNano(), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tickets
		 SET title = ?, description = ?, type_id = ?, start_at = ?, end_at = ?, confirmed = ?, lane = ?,
		     custom_properties = ?, parent_id = ?, nesting_level = ?, child_order = ?, auto_complete = ?,
		     is_recurring = ?, recurrence_id = ?, recurrence_parent_id = ?, recurrence_end = ?,
		     max_occurrences = ?, updated_at = ?
		 WHERE id = ?`,
		t.Title, t.Description, t.TypeID, t.StartTime.UnixNano(), t.EndTime.UnixNano(),
		boolInt(t.Confirmed), nullInt(t.Lane), string(props), nullString(t.HierarchyParentID),
		t.NestingLevel, t.ChildOrder, boolInt(t.AutoCompleteOnChildrenDone), boolInt(t.IsRecurring),
		nullString(t.RecurrenceID), nullString(t.RecurrenceParentID), recurrenceEnd,
		nullInt(t.MaxOccurrences), s.clock.Now().UnixNano(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update ticket: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *TicketStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tickets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	return nil
}

func (s *TicketStore) list(ctx context.Context, query string, args ...any) ([]model.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

func scanTicket(row rowScanner) (*model.Ticket, error) {
	var (
		t                                          model.Ticket
		startAt, endAt, createdAt, updatedAt       int64
		confirmed, autoComplete, isRecurring       int
		lane, recurrenceEnd, maxOccurrences        sql.NullInt64
		props                                      string
		parentID, recurrenceID, recurrenceParentID sql.NullString
	)

	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.TypeID, &startAt, &endAt,
		&confirmed, &lane, &props, &parentID, &t.NestingLevel, &t.ChildOrder, &autoComplete,
		&isRecurring, &recurrenceID, &recurrenceParentID, &recurrenceEnd, &maxOccurrences,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(props), &t.CustomProperties); err != nil {
		return nil, fmt.Errorf("decode custom properties of %s: %w", t.ID, err)
	}

	t.StartTime = fromNanos(startAt)
	t.EndTime = fromNanos(endAt)
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	t.Confirmed = confirmed != 0
	t.AutoCompleteOnChildrenDone = autoComplete != 0
	t.IsRecurring = isRecurring != 0
	t.Lane = intPtr(lane)
	t.MaxOccurrences = intPtr(maxOccurrences)
	t.HierarchyParentID = stringPtr(parentID)
	t.RecurrenceID = stringPtr(recurrenceID)
	t.RecurrenceParentID = stringPtr(recurrenceParentID)
	if recurrenceEnd.Valid {
		end := fromNanos(recurrenceEnd.Int64)
		t.RecurrenceEnd = &end
	}
	return &t, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
