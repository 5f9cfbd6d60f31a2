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

type PatternStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewPatternStore(db *sql.DB, clk clock.Clock) *PatternStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &PatternStore{db: db, clock: clk}
}

// Create stores p under a new id. p.ID and the timestamps are ignored.
func (s *PatternStore) Create(ctx context.Context, p model.RecurrencePattern) (*model.RecurrencePattern, error) {
	skip, err := encodeDates(p.SkipDates)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := s.clock.Now().UnixNano()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recurrence_patterns (id, frequency, interval_value, skip_dates, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(p.Frequency), p.Interval, skip, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert recurrence pattern: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *PatternStore) GetByID(ctx context.Context, id string) (*model.RecurrencePattern, error) {
	var (
		p                    model.RecurrencePattern
		freq, skip           string
		lastAt               sql.NullInt64
		createdAt, updatedAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, frequency, interval_value, skip_dates, generated_count, last_occurrence_at,
		        created_at, updated_at
		 FROM recurrence_patterns WHERE id = ?`,
		id,
	).Scan(&p.ID, &freq, &p.Interval, &skip, &p.GeneratedCount, &lastAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query recurrence pattern: %w", err)
	}

	p.Frequency = model.Frequency(freq)
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)
	if lastAt.Valid {
		last := fromNanos(lastAt.Int64)
		p.LastOccurrence = &last
	}
	if err := json.Unmarshal([]byte(skip), &p.SkipDates); err != nil {
		return nil, fmt.Errorf("decode skip dates of %s: %w", p.ID, err)
	}
	return &p, nil
}

// UpdateSkipDates replaces the pattern's skip dates. A missing pattern
// yields nil, nil.
func (s *PatternStore) UpdateSkipDates(ctx context.Context, id string, dates []model.Date) (*model.RecurrencePattern, error) {
	skip, err := encodeDates(dates)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE recurrence_patterns SET skip_dates = ?, updated_at = ? WHERE id = ?`,
		skip, s.clock.Now().UnixNano(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update skip dates: %w", err)
	}

	return s.GetByID(ctx, id)
}

// RecordGenerated adds n to the pattern's generated count and moves its
// last occurrence forward to last. It never moves it back.
func (s *PatternStore) RecordGenerated(ctx context.Context, id string, n int, last time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recurrence_patterns
		 SET generated_count = generated_count + ?,
		     last_occurrence_at = MAX(COALESCE(last_occurrence_at, ?), ?),
		     updated_at = ?
		 WHERE id = ?`,
		n, last.UnixNano(), last.UnixNano(), s.clock.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("record generated occurrences: %w", err)
	}
	return nil
}

func (s *PatternStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM recurrence_patterns WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete recurrence pattern: %w", err)
	}
	return nil
}

func encodeDates(dates []model.Date) (string, error) {
	if dates == nil {
		dates = []model.Date{}
	}
	b, err := json.Marshal(dates)
	if err != nil {
		return "", fmt.Errorf("encode skip dates: %w", err)
	}
	return string(b), nil
}
