package hierarchy

import (
	"context"
	"fmt"

	"github.com/dukerupert/timeline/internal/schederr"
)

type BulkOp string

const (
	BulkMove     BulkOp = "move"
	BulkDelete   BulkOp = "delete"
	BulkComplete BulkOp = "complete"
)

type BulkRequest struct {
	Op          BulkOp   `json:"op"`
	IDs         []string `json:"ids"`
	NewParentID *string  `json:"new_parent_id"`
}

type BulkItemResult struct {
	ID      string        `json:"id"`
	OK      bool          `json:"ok"`
	Kind    schederr.Kind `json:"kind,omitempty"`
	Message string        `json:"message,omitempty"`
}

type BulkResult struct {
	Results   []BulkItemResult `json:"results"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// Bulk applies one operation to many tickets. Every existing id must belong
// to ownerID or the whole batch is rejected before anything changes. After
// that each id is processed on its own; a failure does not undo earlier
// items.
func (m *Manager) Bulk(ctx context.Context, ownerID string, req BulkRequest) (*BulkResult, error) {
	switch req.Op {
	case BulkMove, BulkDelete, BulkComplete:
	default:
		return nil, schederr.Validation("op", fmt.Sprintf("unknown bulk operation %q", req.Op))
	}
	if len(req.IDs) == 0 {
		return nil, schederr.Validation("ids", "at least one id is required")
	}

	var foreign []string
	for _, id := range req.IDs {
		t, err := m.store.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get ticket: %w", err)
		}
		if t != nil && t.OwnerID != ownerID {
			foreign = append(foreign, id)
		}
	}
	if len(foreign) > 0 {
		return nil, schederr.New(schederr.KindForbidden, "batch contains tickets owned by another user").WithIDs(foreign...)
	}

	res := &BulkResult{Results: make([]BulkItemResult, 0, len(req.IDs))}
	for _, id := range req.IDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var err error
		switch req.Op {
		case BulkMove:
			_, err = m.MoveSubtree(ctx, ownerID, id, req.NewParentID)
		case BulkDelete:
			_, err = m.Delete(ctx, ownerID, id)
		case BulkComplete:
			_, err = m.Complete(ctx, ownerID, id)
		}

		item := BulkItemResult{ID: id, OK: err == nil}
		if err != nil {
			res.Failed++
			if e, ok := schederr.As(err); ok {
				item.Kind, item.Message = e.Kind, e.Message
			} else {
				m.logger.Error("bulk item failed", "op", req.Op, "ticket_id", id, "error", err)
				item.Message = "internal error"
			}
		} else {
			res.Succeeded++
		}
		res.Results = append(res.Results, item)
	}
	return res, nil
}
