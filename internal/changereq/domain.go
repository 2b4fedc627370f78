// Package changereq implements the change-request workflow: proposals
// submitted by callers who lack direct-apply authority, decided by
// reviewers whose policy and line-of-business scope allow it.
package changereq

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calyx-catalog/calyx/internal/authz"
)

// Status is a change-request lifecycle state.
type Status string

const (
	// StatusSubmitted is the initial state. Some clients say "pending";
	// ParseStatus folds that alias into this one stored value.
	StatusSubmitted Status = "submitted"
	// StatusApproved is terminal.
	StatusApproved Status = "approved"
	// StatusRejected is terminal.
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is permitted. This is
// the single terminal-status predicate; both decisions and the queue
// use it.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ParseStatus normalizes a status filter value.
func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "submitted", "pending":
		return StatusSubmitted, nil
	case "approved":
		return StatusApproved, nil
	case "rejected":
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", authz.ErrValidation, value)
	}
}

// Decision is a reviewer verdict.
type Decision string

const (
	DecisionApprove Decision = "approved"
	DecisionReject  Decision = "rejected"
)

// ParseDecision validates a decision value.
func ParseDecision(value string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "approved", "approve":
		return DecisionApprove, nil
	case "rejected", "reject":
		return DecisionReject, nil
	default:
		return "", fmt.Errorf("%w: unknown decision %q", authz.ErrValidation, value)
	}
}

// Status returns the terminal status a decision produces.
func (d Decision) Status() Status {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// Meta is the metadata block embedded in the payload at submission
// time. Freezing the required level there means later catalog changes
// do not retroactively move the bar for already-submitted requests.
type Meta struct {
	RequiredLevel int      `json:"required_level,omitempty"`
	LOBs          []string `json:"lobs,omitempty"`
}

// ChangeRequest is a persisted proposal awaiting decision.
type ChangeRequest struct {
	ID          uuid.UUID      `json:"id"`
	ChangeType  string         `json:"change_type"`
	VendorScope string         `json:"vendor_scope"`
	Requestor   string         `json:"requestor"`
	Assignee    string         `json:"assignee,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Meta        Meta           `json:"meta"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	Notes       string         `json:"notes,omitempty"`
}

// GlobalScope reports whether the row targets the global sentinel and
// is therefore exempt from LOB-scope checks.
func (c ChangeRequest) GlobalScope() bool {
	return c.VendorScope == authz.GlobalVendorScope
}

// RequiredLevel returns the frozen review bar, falling back to the
// catalog for rows submitted before metadata embedding existed.
func (c ChangeRequest) RequiredLevel(catalog *authz.Catalog) int {
	if c.Meta.RequiredLevel > 0 {
		return c.Meta.RequiredLevel
	}
	return catalog.RequiredLevel(c.ChangeType)
}

// Filter selects queue rows.
type Filter struct {
	Status    string
	Queue     string // "all" or "my_approvals"
	LOB       string
	Requestor string
	Assignee  string
	Search    string
}

// QueueAll and QueueMyApprovals are the recognized queue selectors.
const (
	QueueAll         = "all"
	QueueMyApprovals = "my_approvals"
)
