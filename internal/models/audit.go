package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit target types.
const (
	TargetTenant     = "tenant"
	TargetUser       = "user"
	TargetBulk       = "bulk"
	TargetFederation = "federation"
	TargetAudit      = "audit"
)

// AuditEntry is one immutable record of a privileged action.
// Category and Severity are derived on read and never stored, as are the
// actor's name and email.
type AuditEntry struct {
	ID          uuid.UUID       `json:"id"`
	Seq         int64           `json:"seq"`
	ActionType  string          `json:"action_type"`
	TargetType  string          `json:"target_type"`
	TargetID    *uuid.UUID      `json:"target_id,omitempty"`
	TargetLabel string          `json:"target_label"`
	ActorID     uuid.UUID       `json:"actor_id"`
	ActorName   string          `json:"actor_name,omitempty"`
	ActorEmail  string          `json:"actor_email,omitempty"`
	Description string          `json:"description"`
	OldValue    json.RawMessage `json:"old_value,omitempty"`
	NewValue    json.RawMessage `json:"new_value,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Category    string          `json:"category"`
	Severity    string          `json:"severity"`
}

// AuditFilter narrows audit listings. Zero values mean "any".
type AuditFilter struct {
	Search     string     `json:"search,omitempty"`
	ActionType string     `json:"action_type,omitempty"`
	TargetType string     `json:"target_type,omitempty"`
	Category   string     `json:"category,omitempty"`
	Severity   string     `json:"severity,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Page       int        `json:"page,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

// AuditPage is one page of audit entries, newest first.
type AuditPage struct {
	Entries []*AuditEntry `json:"entries"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	Limit   int           `json:"limit"`
}

// ActionCount is how often one action type was recorded.
type ActionCount struct {
	ActionType string `json:"action_type"`
	Count      int    `json:"count"`
}

// AuditStats summarises the log over a trailing window.
type AuditStats struct {
	PeriodDays    int            `json:"period_days"`
	Since         time.Time      `json:"since"`
	Total         int            `json:"total_actions"`
	CriticalCount int            `json:"critical_count"`
	ByCategory    map[string]int `json:"by_category"`
	BySeverity    map[string]int `json:"by_severity"`
	TopActions    []ActionCount  `json:"top_actions"`
}
