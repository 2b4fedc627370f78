package changereq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calyx-catalog/calyx/internal/authz"
	"github.com/calyx-catalog/calyx/internal/shared"
)

// VendorDirectory resolves the orgs a vendor mutation touches: the
// vendor's owner org plus the LOBs of its offerings.
type VendorDirectory interface {
	VendorOrgs(ctx context.Context, vendorID string) (ownerOrg string, offeringLOBs []string, err error)
}

// Applier applies the mutation described by an approved request.
type Applier interface {
	Apply(ctx context.Context, req ChangeRequest) error
}

// DecisionMetrics counts decision outcomes.
type DecisionMetrics interface {
	DecisionRecorded(outcome string)
}

// AuditRecorder appends audit entries outside the decide transaction.
// *shared.AuditLogger satisfies it.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DecisionResult reports what a decide call did.
type DecisionResult struct {
	Request ChangeRequest `json:"request"`
	Outcome string        `json:"outcome"`
	// AlreadyDecided marks the idempotent no-op path: the row reached a
	// terminal status before this call took effect.
	AlreadyDecided bool `json:"already_decided"`
}

// SubmitInput describes a new proposal.
type SubmitInput struct {
	ChangeType  string
	VendorScope string
	Payload     map[string]any
	// LOBs are the org values embedded in the payload; they are frozen
	// into the request metadata for later scope checks.
	LOBs     []string
	Assignee string
}

// Service orchestrates the change-request workflow.
type Service struct {
	repo     Repository
	resolver *authz.Resolver
	vendors  VendorDirectory
	applier  Applier
	audit    AuditRecorder
	metrics  DecisionMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. applier and metrics may be nil.
func NewService(repo Repository, resolver *authz.Resolver, vendors VendorDirectory, applier Applier, audit AuditRecorder, metrics DecisionMetrics, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		vendors:  vendors,
		applier:  applier,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit creates a proposal in submitted status. The review bar is
// computed now and embedded in the metadata.
func (s *Service) Submit(ctx context.Context, snap *authz.PolicySnapshot, in SubmitInput) (ChangeRequest, error) {
	if strings.TrimSpace(in.ChangeType) == "" {
		return ChangeRequest{}, fmt.Errorf("%w: change type required", authz.ErrValidation)
	}
	if snap == nil || !snap.Record.CanSubmitRequests {
		return ChangeRequest{}, fmt.Errorf("%w: submitting change requests requires an authenticated caller", authz.ErrPermissionDenied)
	}
	scope := strings.TrimSpace(in.VendorScope)
	if scope == "" {
		scope = authz.GlobalVendorScope
	}
	// A vendor-bound scope must resolve now; a request carrying a dangling
	// scope would sit in every reviewer's queue unscoped forever.
	if scope != authz.GlobalVendorScope {
		if _, _, err := s.vendors.VendorOrgs(ctx, scope); err != nil {
			if errors.Is(err, authz.ErrValidation) || errors.Is(err, authz.ErrNotFound) {
				return ChangeRequest{}, fmt.Errorf("%w: vendor scope %q does not resolve", authz.ErrValidation, scope)
			}
			return ChangeRequest{}, fmt.Errorf("%w: vendor scope lookup: %v", authz.ErrCollaborator, err)
		}
	}

	req := ChangeRequest{
		ID:          uuid.New(),
		ChangeType:  in.ChangeType,
		VendorScope: scope,
		Requestor:   snap.Principal,
		Assignee:    in.Assignee,
		Payload:     in.Payload,
		Meta: Meta{
			RequiredLevel: s.resolver.Catalog().RequiredLevel(in.ChangeType),
			LOBs:          in.LOBs,
		},
		Status:    StatusSubmitted,
		CreatedAt: s.now(),
	}
	id, err := s.repo.Create(ctx, req)
	if err != nil {
		return ChangeRequest{}, err
	}
	req.ID = id

	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    snap.Principal,
		Action:   "submit_change_request",
		Entity:   "change_request",
		EntityID: id.String(),
		After: map[string]any{
			"change_type":    req.ChangeType,
			"vendor_scope":   req.VendorScope,
			"required_level": req.Meta.RequiredLevel,
		},
	}); err != nil {
		s.logger.Error("audit submit", slog.Any("error", err))
	}
	return req, nil
}

// Decide moves a request to a terminal status. Deciding an already
// terminal row is an informational no-op, never an error; two racing
// decisions resolve to exactly one effective transition through the
// repository's status guard.
func (s *Service) Decide(ctx context.Context, snap *authz.PolicySnapshot, id uuid.UUID, decision, notes string) (DecisionResult, error) {
	verdict, err := ParseDecision(decision)
	if err != nil {
		return DecisionResult{}, err
	}

	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return DecisionResult{}, err
	}
	if req.Status.Terminal() {
		return alreadyDecided(req), nil
	}

	requiredLevel := req.RequiredLevel(s.resolver.Catalog())
	if err := s.authorizeReview(ctx, snap, req, requiredLevel); err != nil {
		return DecisionResult{}, err
	}

	decidedAt := s.now()
	to := verdict.Status()
	applied, err := s.repo.Decide(ctx, id, StatusSubmitted, to, snap.Principal, notes, decidedAt, shared.AuditLog{
		Actor:    snap.Principal,
		Action:   "decide_change_request",
		Entity:   "change_request",
		EntityID: id.String(),
		Before:   map[string]any{"status": string(req.Status)},
		After:    map[string]any{"status": string(to), "notes": notes},
	})
	if err != nil {
		return DecisionResult{}, err
	}
	if !applied {
		// Lost the race: observe the winner's terminal status.
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return DecisionResult{}, err
		}
		return alreadyDecided(current), nil
	}

	req.Status = to
	req.DecidedBy = snap.Principal
	req.DecidedAt = &decidedAt
	req.Notes = notes
	if s.metrics != nil {
		s.metrics.DecisionRecorded(string(to))
	}
	s.logger.Info("change request decided",
		slog.String("id", id.String()),
		slog.String("status", string(to)),
		slog.String("reviewer", snap.Principal))

	if to == StatusApproved && s.applier != nil {
		if err := s.applier.Apply(ctx, req); err != nil {
			// The decision stands; application failures are surfaced in
			// the audit trail for operator follow-up.
			s.logger.Error("apply approved change", slog.String("id", id.String()), slog.Any("error", err))
			if auditErr := s.audit.Record(ctx, shared.AuditLog{
				Actor:    snap.Principal,
				Action:   "apply_failed",
				Entity:   "change_request",
				EntityID: id.String(),
				After:    map[string]any{"error": err.Error()},
			}); auditErr != nil {
				s.logger.Error("audit apply failure", slog.Any("error", auditErr))
			}
		}
	}

	return DecisionResult{Request: req, Outcome: string(to)}, nil
}

// DirectApply runs a mutation immediately for callers whose policy
// grants it, bypassing the workflow. No change-request row is created;
// the mutation is audited directly.
func (s *Service) DirectApply(ctx context.Context, snap *authz.PolicySnapshot, in SubmitInput, apply func(context.Context) error) error {
	if snap == nil || !snap.Record.CanDirectApply || !s.resolver.CanApplyChange(snap.Record, in.ChangeType) {
		required := s.resolver.Catalog().RequiredLevel(in.ChangeType)
		return fmt.Errorf("%w: direct apply of %s requires %s", authz.ErrPermissionDenied, in.ChangeType, authz.FormatLevelLabel(required))
	}
	scope := strings.TrimSpace(in.VendorScope)
	if scope == "" {
		scope = authz.GlobalVendorScope
	}
	if scope != authz.GlobalVendorScope {
		if err := s.checkVendorScope(ctx, snap, scope, in.LOBs); err != nil {
			return err
		}
	}
	if err := apply(ctx); err != nil {
		return err
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    snap.Principal,
		Action:   "direct_apply",
		Entity:   "vendor",
		EntityID: scope,
		After:    map[string]any{"change_type": in.ChangeType, "payload": in.Payload},
	}); err != nil {
		s.logger.Error("audit direct apply", slog.Any("error", err))
	}
	if s.metrics != nil {
		s.metrics.DecisionRecorded("direct_apply")
	}
	return nil
}

func (s *Service) authorizeReview(ctx context.Context, snap *authz.PolicySnapshot, req ChangeRequest, requiredLevel int) error {
	if snap == nil || !s.resolver.CanReviewChange(snap.Record, requiredLevel) {
		return fmt.Errorf("%w: reviewing %s requires %s", authz.ErrPermissionDenied, req.ChangeType, authz.FormatLevelLabel(requiredLevel))
	}
	if req.GlobalScope() {
		return nil
	}
	return s.checkVendorScope(ctx, snap, req.VendorScope, req.Meta.LOBs)
}

func (s *Service) checkVendorScope(ctx context.Context, snap *authz.PolicySnapshot, vendorID string, extraLOBs []string) error {
	ownerOrg, offeringLOBs, err := s.vendors.VendorOrgs(ctx, vendorID)
	if err != nil {
		return fmt.Errorf("%w: vendor orgs: %v", authz.ErrCollaborator, err)
	}
	lobs := append(append([]string(nil), offeringLOBs...), extraLOBs...)
	if !snap.HasVendorLevelScope(ownerOrg, lobs, authz.ScopeEdit) {
		return fmt.Errorf("%w: edit scope required for every line of business of vendor %s", authz.ErrPermissionDenied, vendorID)
	}
	return nil
}

func alreadyDecided(req ChangeRequest) DecisionResult {
	return DecisionResult{
		Request:        req,
		Outcome:        "already_" + string(req.Status),
		AlreadyDecided: true,
	}
}
