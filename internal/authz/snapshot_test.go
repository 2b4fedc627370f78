package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubSession struct {
	stubOverrideStore
	snap   *PolicySnapshot
	stores int
}

func (s *stubSession) PolicySnapshot() *PolicySnapshot { return s.snap }
func (s *stubSession) StorePolicySnapshot(snap *PolicySnapshot) {
	s.snap = snap
	s.stores++
}

type stubGrants struct {
	grants []ScopeGrant
	calls  int
}

func (s *stubGrants) ListGrants(ctx context.Context, principal string) ([]ScopeGrant, error) {
	s.calls++
	return s.grants, nil
}

func newTestCache(dir *stubDirectory, grants *stubGrants, ttl time.Duration) (*SnapshotCache, *time.Time) {
	resolver := newTestResolver(dir, false)
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	cache := NewSnapshotCache(resolver, dir, grants, ttl, nil, nil).WithClock(func() time.Time { return now })
	return cache, &now
}

func TestSnapshotCacheHitSkipsBootstrap(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{"pat": {RoleSteward}}, version: 7}
	grants := &stubGrants{grants: []ScopeGrant{{Principal: "pat", Org: "fin-ops", Level: ScopeEdit}}}
	cache, now := newTestCache(dir, grants, 5*time.Minute)
	sess := &stubSession{}
	ident := Identity{Principal: "pat", Groups: []string{"finance"}}

	first, err := cache.GetOrResolve(context.Background(), sess, ident)
	require.NoError(t, err)
	require.Equal(t, 1, dir.bootstrapCalls)
	require.Equal(t, int64(7), first.PolicyVersion)
	require.Len(t, first.Grants, 1)

	*now = now.Add(time.Minute)
	second, err := cache.GetOrResolve(context.Background(), sess, ident)
	require.NoError(t, err)
	require.Equal(t, 1, dir.bootstrapCalls, "usable snapshot must not re-invoke bootstrap")
	require.Equal(t, 1, grants.calls)
	require.Same(t, first, second)
}

func TestSnapshotCacheVersionBumpForcesSingleRecompute(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{"pat": {RoleSteward}}, version: 7}
	grants := &stubGrants{}
	cache, _ := newTestCache(dir, grants, 5*time.Minute)
	sess := &stubSession{}
	ident := Identity{Principal: "pat"}

	_, err := cache.GetOrResolve(context.Background(), sess, ident)
	require.NoError(t, err)

	// A scope revoke bumped the global version; the pre-bump snapshot
	// is stale even though its TTL has not elapsed.
	dir.version = 8
	snap, err := cache.GetOrResolve(context.Background(), sess, ident)
	require.NoError(t, err)
	require.Equal(t, 2, dir.bootstrapCalls)
	require.Equal(t, int64(8), snap.PolicyVersion)

	_, err = cache.GetOrResolve(context.Background(), sess, ident)
	require.NoError(t, err)
	require.Equal(t, 2, dir.bootstrapCalls, "exactly one recomputation per bump")
}

func TestSnapshotCacheTTLExpiry(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{"pat": {RoleSteward}}}
	cache, now := newTestCache(dir, &stubGrants{}, time.Minute)
	sess := &stubSession{}
	ident := Identity{Principal: "pat"}

	_, err := cache.GetOrResolve(context.Background(), sess, ident)
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	_, err = cache.GetOrResolve(context.Background(), sess, ident)
	require.NoError(t, err)
	require.Equal(t, 2, dir.bootstrapCalls)
}

func TestSnapshotCacheOverrideChangeInvalidates(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{"pat": {RoleAdmin}}}
	cache, _ := newTestCache(dir, &stubGrants{}, 5*time.Minute)
	sess := &stubSession{}
	ident := Identity{Principal: "pat"}

	_, err := cache.GetOrResolve(context.Background(), sess, ident)
	require.NoError(t, err)

	sess.override = RoleViewer
	snap, err := cache.GetOrResolve(context.Background(), sess, ident)
	require.NoError(t, err)
	require.Equal(t, 2, dir.bootstrapCalls)
	require.Equal(t, RoleViewer, snap.RoleOverride)
	require.Equal(t, []string{RoleViewer}, snap.Record.EffectiveRoles)
}

func TestSnapshotCacheGroupChangeInvalidates(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{"pat": {RoleSteward}}}
	cache, _ := newTestCache(dir, &stubGrants{}, 5*time.Minute)
	sess := &stubSession{}

	_, err := cache.GetOrResolve(context.Background(), sess, Identity{Principal: "pat", Groups: []string{"finance"}})
	require.NoError(t, err)

	_, err = cache.GetOrResolve(context.Background(), sess, Identity{Principal: "pat", Groups: []string{"finance", "legal"}})
	require.NoError(t, err)
	require.Equal(t, 2, dir.bootstrapCalls)
}

func TestSnapshotUsableRejectsNil(t *testing.T) {
	var snap *PolicySnapshot
	require.False(t, snap.Usable("pat", time.Now(), 1, "", nil, false))
}

func TestSnapshotCachePrincipalChangeInvalidates(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{"pat": {RoleSteward}, "sam": {RoleViewer}}}
	cache, _ := newTestCache(dir, &stubGrants{}, 5*time.Minute)
	sess := &stubSession{}

	_, err := cache.GetOrResolve(context.Background(), sess, Identity{Principal: "pat"})
	require.NoError(t, err)

	snap, err := cache.GetOrResolve(context.Background(), sess, Identity{Principal: "sam"})
	require.NoError(t, err)
	require.Equal(t, 2, dir.bootstrapCalls)
	require.Equal(t, "sam", snap.Principal)
}
