package authz

import (
	"context"
	"fmt"
	"time"
)

// PolicySnapshot memoizes one caller's resolved policy inside their
// session. It is valid only while every input it was derived from is
// unchanged and its TTL has not elapsed.
type PolicySnapshot struct {
	Principal     string           `json:"principal,omitempty"`
	CapturedAt    time.Time        `json:"captured_at"`
	PolicyVersion int64            `json:"policy_version"`
	RoleOverride  string           `json:"role_override,omitempty"`
	Groups        []string         `json:"groups,omitempty"`
	DevGrantAll   bool             `json:"dev_grant_all,omitempty"`
	TTL           time.Duration    `json:"ttl"`
	Grants        []ScopeGrant     `json:"grants,omitempty"`
	Record        RolePolicyRecord `json:"record"`
}

// Usable reports whether the snapshot may be served without
// recomputation for the given current inputs.
func (s *PolicySnapshot) Usable(principal string, now time.Time, version int64, override string, groups []string, devGrantAll bool) bool {
	if s == nil {
		return false
	}
	if s.Principal != principal {
		return false
	}
	if s.TTL <= 0 || now.Sub(s.CapturedAt) >= s.TTL {
		return false
	}
	if s.PolicyVersion != version {
		return false
	}
	if s.RoleOverride != override {
		return false
	}
	if s.DevGrantAll != devGrantAll {
		return false
	}
	return equalStrings(s.Groups, groups)
}

// HasLOBScope evaluates the snapshot's grants against a target LOB.
func (s *PolicySnapshot) HasLOBScope(lob string, min ScopeLevel) bool {
	return HasLOBScope(s.Grants, lob, min)
}

// HasVendorLevelScope evaluates the conjunctive vendor-level rule over
// the snapshot's grants.
func (s *PolicySnapshot) HasVendorLevelScope(ownerOrg string, offeringLOBs []string, min ScopeLevel) bool {
	return HasVendorLevelScope(s.Grants, ownerOrg, offeringLOBs, min)
}

// SnapshotStore is the session slot holding the caller's snapshot and
// role override. The store is private to one (session, principal) pair;
// concurrent requests may overwrite each other's snapshot, which only
// costs a spurious recompute.
type SnapshotStore interface {
	OverrideStore
	PolicySnapshot() *PolicySnapshot
	StorePolicySnapshot(*PolicySnapshot)
}

// GrantSource lists the scope grants for a principal.
type GrantSource interface {
	ListGrants(ctx context.Context, principal string) ([]ScopeGrant, error)
}

// CacheMetrics receives snapshot cache outcomes.
type CacheMetrics interface {
	SnapshotHit()
	SnapshotMiss()
}

// SnapshotCache resolves policy through the session-scoped snapshot,
// re-reading the global policy version on every call so that any admin
// mutation is visible on the next resolution after its version bump.
type SnapshotCache struct {
	resolver    *Resolver
	directory   Directory
	grants      GrantSource
	ttl         time.Duration
	devGrantAll func() bool
	now         func() time.Time
	metrics     CacheMetrics
}

// NewSnapshotCache constructs a SnapshotCache. metrics may be nil.
func NewSnapshotCache(resolver *Resolver, directory Directory, grants GrantSource, ttl time.Duration, devGrantAll func() bool, metrics CacheMetrics) *SnapshotCache {
	if devGrantAll == nil {
		devGrantAll = func() bool { return false }
	}
	return &SnapshotCache{
		resolver:    resolver,
		directory:   directory,
		grants:      grants,
		ttl:         ttl,
		devGrantAll: devGrantAll,
		now:         time.Now,
		metrics:     metrics,
	}
}

// WithClock overrides the time source. Test hook.
func (c *SnapshotCache) WithClock(now func() time.Time) *SnapshotCache {
	c.now = now
	return c
}

// GetOrResolve returns a usable snapshot from the session, or resolves
// a fresh one and stores it.
func (c *SnapshotCache) GetOrResolve(ctx context.Context, sess SnapshotStore, ident Identity) (*PolicySnapshot, error) {
	version, err := c.directory.PolicyVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: policy version: %v", ErrCollaborator, err)
	}

	now := c.now()
	groups := ident.NormalizedGroups()
	dev := c.devGrantAll()

	if snap := sess.PolicySnapshot(); snap.Usable(ident.Principal, now, version, sess.RoleOverride(), groups, dev) {
		if c.metrics != nil {
			c.metrics.SnapshotHit()
		}
		return snap, nil
	}
	if c.metrics != nil {
		c.metrics.SnapshotMiss()
	}

	record, err := c.resolver.Resolve(ctx, ident, sess)
	if err != nil {
		return nil, err
	}

	var grants []ScopeGrant
	if !ident.Anonymous() && c.grants != nil {
		grants, err = c.grants.ListGrants(ctx, ident.Principal)
		if err != nil {
			return nil, fmt.Errorf("%w: list grants: %v", ErrCollaborator, err)
		}
	}

	snap := &PolicySnapshot{
		Principal:     ident.Principal,
		CapturedAt:    now,
		PolicyVersion: version,
		// Resolve may have cleared an invalid override; capture the
		// value actually in effect.
		RoleOverride: sess.RoleOverride(),
		Groups:       groups,
		DevGrantAll:  dev,
		TTL:          c.ttl,
		Grants:       grants,
		Record:       record,
	}
	sess.StorePolicySnapshot(snap)
	return snap, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
