package models

import "github.com/google/uuid"

// BulkItemResult is the outcome for one id of a bulk request.
type BulkItemResult struct {
	ID    uuid.UUID `json:"id"`
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
	Kind  string    `json:"kind,omitempty"`
}

// BulkResult summarizes a best-effort batch. UpdatedCount is the
// compatibility summary; Items carries per-id detail. Repeated ids are not
// applied twice: each repeat counts as skipped, so RequestedCount is
// UpdatedCount + FailedCount + SkippedCount.
type BulkResult struct {
	RequestedCount int              `json:"total_requested"`
	UpdatedCount   int              `json:"updated_count"`
	FailedCount    int              `json:"failed_count"`
	SkippedCount   int              `json:"skipped_count"`
	Skipped        []uuid.UUID      `json:"skipped_duplicates,omitempty"`
	Items          []BulkItemResult `json:"items,omitempty"`
}

// Add appends an item outcome and updates the counters.
func (r *BulkResult) Add(item BulkItemResult) {
	r.Items = append(r.Items, item)
	if item.OK {
		r.UpdatedCount++
	} else {
		r.FailedCount++
	}
}

// Partial reports whether some but not all items failed.
func (r *BulkResult) Partial() bool {
	return r.FailedCount > 0 && r.UpdatedCount > 0
}
