package model

import "time"

type Ticket struct {
	ID                         string     `json:"id"`
	OwnerID                    string     `json:"owner_id"`
	Title                      string     `json:"title"`
	Description                string     `json:"description"`
	TypeID                     string     `json:"type_id"`
	StartTime                  time.Time  `json:"start_time"`
	EndTime                    time.Time  `json:"end_time"`
	Status                     Status     `json:"status"`
	Confirmed                  bool       `json:"confirmed"`
	Lane                       *int       `json:"lane"`
	CustomProperties           Properties `json:"custom_properties"`
	HierarchyParentID          *string    `json:"hierarchy_parent_id"`
	NestingLevel               int        `json:"nesting_level"`
	ChildOrder                 int        `json:"child_order"`
	AutoCompleteOnChildrenDone bool       `json:"auto_complete_on_children_done"`
	IsRecurring                bool       `json:"is_recurring"`
	RecurrenceID               *string    `json:"recurrence_id"`
	RecurrenceParentID         *string    `json:"recurrence_parent_id"`
	RecurrenceEnd              *time.Time `json:"recurrence_end"`
	MaxOccurrences             *int       `json:"max_occurrences"`
	CreatedAt                  time.Time  `json:"created_at"`
	UpdatedAt                  time.Time  `json:"updated_at"`
}

// Duration returns EndTime - StartTime.
func (t Ticket) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// IsInstance reports whether the ticket was generated from a recurring series.
func (t Ticket) IsInstance() bool {
	return t.RecurrenceParentID != nil
}

// TicketSpec carries the fields of a ticket about to be created. The store
// assigns the ID and bookkeeping timestamps.
type TicketSpec struct {
	OwnerID                    string
	Title                      string
	Description                string
	TypeID                     string
	StartTime                  time.Time
	EndTime                    time.Time
	Lane                       *int
	CustomProperties           Properties
	HierarchyParentID          *string
	NestingLevel               int
	ChildOrder                 int
	AutoCompleteOnChildrenDone bool
	RecurrenceID               *string
	RecurrenceParentID         *string
}

// TicketPatch is a partial update. Nil fields are left untouched.
//
// For the nullable links (HierarchyParentID, RecurrenceID,
// RecurrenceParentID) an empty string clears the link. A negative Lane
// clears the lane hint. ClearRecurrenceEnd and ClearMaxOccurrences drop the
// series limits.
type TicketPatch struct {
	Title                      *string
	Description                *string
	TypeID                     *string
	StartTime                  *time.Time
	EndTime                    *time.Time
	Confirmed                  *bool
	Lane                       *int
	CustomProperties           *Properties
	HierarchyParentID          *string
	NestingLevel               *int
	ChildOrder                 *int
	AutoCompleteOnChildrenDone *bool
	IsRecurring                *bool
	RecurrenceID               *string
	RecurrenceParentID         *string
	RecurrenceEnd              *time.Time
	ClearRecurrenceEnd         bool
	MaxOccurrences             *int
	ClearMaxOccurrences        bool
}

// Validate checks the time range invariant of a spec.
func (s TicketSpec) Validate() error {
	return ValidateRange(s.StartTime, s.EndTime)
}

// Apply writes the set fields of p onto t.
func (p TicketPatch) Apply(t *Ticket) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.TypeID != nil {
		t.TypeID = *p.TypeID
	}
	if p.StartTime != nil {
		t.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		t.EndTime = *p.EndTime
	}
	if p.Confirmed != nil {
		t.Confirmed = *p.Confirmed
	}
	if p.Lane != nil {
		if *p.Lane < 0 {
			t.Lane = nil
		} else {
			lane := *p.Lane
			t.Lane = &lane
		}
	}
	if p.CustomProperties != nil {
		t.CustomProperties = *p.CustomProperties
	}
	if p.HierarchyParentID != nil {
		t.HierarchyParentID = link(*p.HierarchyParentID)
	}
	if p.NestingLevel != nil {
		t.NestingLevel = *p.NestingLevel
	}
	if p.ChildOrder != nil {
		t.ChildOrder = *p.ChildOrder
	}
	if p.AutoCompleteOnChildrenDone != nil {
		t.AutoCompleteOnChildrenDone = *p.AutoCompleteOnChildrenDone
	}
	if p.IsRecurring != nil {
		t.IsRecurring = *p.IsRecurring
	}
	if p.RecurrenceID != nil {
		t.RecurrenceID = link(*p.RecurrenceID)
	}
	if p.RecurrenceParentID != nil {
		t.RecurrenceParentID = link(*p.RecurrenceParentID)
	}
	switch {
	case p.ClearRecurrenceEnd:
		t.RecurrenceEnd = nil
	case p.RecurrenceEnd != nil:
		end := *p.RecurrenceEnd
		t.RecurrenceEnd = &end
	}
	switch {
	case p.ClearMaxOccurrences:
		t.MaxOccurrences = nil
	case p.MaxOccurrences != nil:
		n := *p.MaxOccurrences
		t.MaxOccurrences = &n
	}
}

func link(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
