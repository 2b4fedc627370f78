package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Identity is the caller principal as asserted by the upstream proxy.
// Group principals are normalized (lower-cased, trimmed) before use.
type Identity struct {
	Principal string
	Groups    []string
}

// Anonymous reports whether no principal was asserted.
func (i Identity) Anonymous() bool {
	return strings.TrimSpace(i.Principal) == ""
}

// NormalizedGroups returns the sorted, deduplicated, lower-cased group
// principals. Sorting keeps snapshot equality comparison stable.
func (i Identity) NormalizedGroups() []string {
	seen := make(map[string]struct{}, len(i.Groups))
	out := make([]string, 0, len(i.Groups))
	for _, group := range i.Groups {
		g := strings.ToLower(strings.TrimSpace(group))
		if g == "" {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// PolicyOverride is an externally supplied capability override record.
// Nil fields fall back to the role-set defaults; a non-nil allow-list
// denies any catalog change type absent from it.
type PolicyOverride struct {
	CanEdit            *bool
	CanReport          *bool
	CanSubmitRequests  *bool
	CanApproveRequests *bool
	CanDirectApply     *bool
	AllowedChangeTypes []string
}

// RolePolicyRecord is the fully resolved policy for one caller.
type RolePolicyRecord struct {
	RawRoles           []string `json:"raw_roles"`
	EffectiveRoles     []string `json:"effective_roles"`
	Level              int      `json:"level"`
	CanEdit            bool     `json:"can_edit"`
	CanReport          bool     `json:"can_report"`
	CanSubmitRequests  bool     `json:"can_submit_requests"`
	CanApproveRequests bool     `json:"can_approve_requests"`
	CanDirectApply     bool     `json:"can_direct_apply"`
	// AllowedChangeTypes, when non-nil, is an explicit allow-list: a
	// catalog change type absent from it is denied regardless of level.
	AllowedChangeTypes []string `json:"allowed_change_types,omitempty"`
}

// Directory is the identity/role-bootstrap collaborator. Implementations
// live outside the core; failures are wrapped as ErrCollaborator.
type Directory interface {
	BootstrapAccess(ctx context.Context, principal string, groups []string) ([]string, error)
	ListKnownRoles(ctx context.Context) ([]string, error)
	ResolveRolePolicy(ctx context.Context, roles []string) (*PolicyOverride, error)
	PolicyVersion(ctx context.Context) (int64, error)
}

// OverrideStore is the session-local role override slot. The resolver
// clears it when the caller loses admin-portal membership or the stored
// value is no longer a known role.
type OverrideStore interface {
	RoleOverride() string
	ClearRoleOverride()
}

// Resolver combines raw role memberships, the session override and the
// catalog into a resolved policy record.
type Resolver struct {
	catalog     *Catalog
	directory   Directory
	defaultRole string
	devGrantAll func() bool
	logger      *slog.Logger
}

// NewResolver constructs a Resolver. defaultRole is the viewer-grade
// role assigned when the principal resolves to no memberships.
// devGrantAll must only report true under a development environment.
func NewResolver(catalog *Catalog, directory Directory, defaultRole string, devGrantAll func() bool, logger *slog.Logger) *Resolver {
	if devGrantAll == nil {
		devGrantAll = func() bool { return false }
	}
	return &Resolver{
		catalog:     catalog,
		directory:   directory,
		defaultRole: defaultRole,
		devGrantAll: devGrantAll,
		logger:      logger,
	}
}

// Resolve computes the caller's policy record. Invalid session overrides
// are cleared silently, never surfaced as errors.
func (r *Resolver) Resolve(ctx context.Context, ident Identity, sess OverrideStore) (RolePolicyRecord, error) {
	raw, err := r.rawRoles(ctx, ident)
	if err != nil {
		return RolePolicyRecord{}, err
	}

	effective := raw
	if !r.catalog.IsAdminPortal(raw) {
		if sess != nil && sess.RoleOverride() != "" {
			sess.ClearRoleOverride()
		}
	} else if sess != nil {
		if override := sess.RoleOverride(); override != "" {
			known, err := r.knownRole(ctx, override)
			if err != nil {
				return RolePolicyRecord{}, err
			}
			if known {
				effective = []string{override}
			} else {
				r.logger.Warn("clearing unknown role override", slog.String("role", override))
				sess.ClearRoleOverride()
			}
		}
	}

	if r.devGrantAll() {
		top := r.catalog.HighestRole()
		raw = []string{top.Code}
		effective = raw
		if sess != nil {
			sess.ClearRoleOverride()
		}
	}

	if len(effective) == 0 && r.defaultRole != "" {
		effective = []string{r.defaultRole}
	}

	record := RolePolicyRecord{
		RawRoles:       raw,
		EffectiveRoles: effective,
		Level:          r.catalog.AuthorityLevel(effective),
	}
	r.applyCapabilities(ctx, ident, &record)
	return record, nil
}

func (r *Resolver) rawRoles(ctx context.Context, ident Identity) ([]string, error) {
	if ident.Anonymous() {
		return nil, nil
	}
	roles, err := r.directory.BootstrapAccess(ctx, ident.Principal, ident.NormalizedGroups())
	if err != nil {
		return nil, fmt.Errorf("%w: bootstrap access: %v", ErrCollaborator, err)
	}
	return roles, nil
}

func (r *Resolver) knownRole(ctx context.Context, code string) (bool, error) {
	known, err := r.directory.ListKnownRoles(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: list known roles: %v", ErrCollaborator, err)
	}
	for _, role := range known {
		if role == code {
			return true, nil
		}
	}
	return false, nil
}

// applyCapabilities populates the capability booleans: the external
// override record wins field-by-field, everything else falls back to
// the catalog's role flags in one place.
func (r *Resolver) applyCapabilities(ctx context.Context, ident Identity, record *RolePolicyRecord) {
	override, err := r.directory.ResolveRolePolicy(ctx, record.EffectiveRoles)
	if err != nil {
		// A missing override record is not fatal; defaults still apply.
		r.logger.Warn("resolve role policy", slog.Any("error", err))
		override = nil
	}

	defaults := r.defaultCapabilities(ident, record.EffectiveRoles)
	record.CanEdit = pick(overrideField(override, func(o *PolicyOverride) *bool { return o.CanEdit }), defaults.CanEdit)
	record.CanReport = pick(overrideField(override, func(o *PolicyOverride) *bool { return o.CanReport }), defaults.CanReport)
	record.CanSubmitRequests = pick(overrideField(override, func(o *PolicyOverride) *bool { return o.CanSubmitRequests }), defaults.CanSubmitRequests)
	record.CanApproveRequests = pick(overrideField(override, func(o *PolicyOverride) *bool { return o.CanApproveRequests }), defaults.CanApproveRequests)
	record.CanDirectApply = pick(overrideField(override, func(o *PolicyOverride) *bool { return o.CanDirectApply }), defaults.CanDirectApply)
	if override != nil && override.AllowedChangeTypes != nil {
		record.AllowedChangeTypes = append([]string(nil), override.AllowedChangeTypes...)
	}
}

func (r *Resolver) defaultCapabilities(ident Identity, effective []string) RolePolicyRecord {
	var caps RolePolicyRecord
	caps.CanSubmitRequests = !ident.Anonymous()
	caps.CanApproveRequests = r.catalog.IsAdminPortal(effective)
	for _, code := range effective {
		role, ok := r.catalog.Lookup(code)
		if !ok {
			continue
		}
		caps.CanEdit = caps.CanEdit || role.CanEdit
		caps.CanReport = caps.CanReport || role.CanReport
		caps.CanDirectApply = caps.CanDirectApply || role.CanDirectApply
	}
	return caps
}

// CanApplyChange reports whether the record's authority suffices to
// apply the change type directly. With an allow-list present, a catalog
// change type absent from the list is denied outright.
func (r *Resolver) CanApplyChange(record RolePolicyRecord, changeType string) bool {
	if record.AllowedChangeTypes != nil && r.catalog.HasChangeType(changeType) {
		allowed := false
		for _, ct := range record.AllowedChangeTypes {
			if ct == changeType {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return record.Level >= r.catalog.RequiredLevel(changeType)
}

// CanReviewChange reports whether the record may decide requests gated
// at requiredLevel. Requires the approve capability as a baseline.
func (r *Resolver) CanReviewChange(record RolePolicyRecord, requiredLevel int) bool {
	if !record.CanApproveRequests {
		return false
	}
	if requiredLevel < 1 {
		requiredLevel = 1
	}
	if requiredLevel > MaxLevel {
		requiredLevel = MaxLevel
	}
	return record.Level >= requiredLevel
}

// Catalog exposes the underlying registry for collaborators that need
// required-level math without re-resolving policy.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

func overrideField(o *PolicyOverride, get func(*PolicyOverride) *bool) *bool {
	if o == nil {
		return nil
	}
	return get(o)
}

func pick(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}
