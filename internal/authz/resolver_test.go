package authz

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubDirectory struct {
	roles          map[string][]string
	known          []string
	override       *PolicyOverride
	version        int64
	bootstrapCalls int
	bootstrapErr   error
	versionErr     error
}

func (d *stubDirectory) BootstrapAccess(ctx context.Context, principal string, groups []string) ([]string, error) {
	d.bootstrapCalls++
	if d.bootstrapErr != nil {
		return nil, d.bootstrapErr
	}
	return d.roles[principal], nil
}

func (d *stubDirectory) ListKnownRoles(ctx context.Context) ([]string, error) {
	if d.known != nil {
		return d.known, nil
	}
	return []string{RoleViewer, RoleReporter, RoleContributor, RoleEditor, RoleSteward, RoleAdmin}, nil
}

func (d *stubDirectory) ResolveRolePolicy(ctx context.Context, roles []string) (*PolicyOverride, error) {
	return d.override, nil
}

func (d *stubDirectory) PolicyVersion(ctx context.Context) (int64, error) {
	if d.versionErr != nil {
		return 0, d.versionErr
	}
	return d.version, nil
}

type stubOverrideStore struct {
	override string
	cleared  bool
}

func (s *stubOverrideStore) RoleOverride() string { return s.override }
func (s *stubOverrideStore) ClearRoleOverride() {
	s.override = ""
	s.cleared = true
}

func newTestResolver(dir *stubDirectory, devGrantAll bool) *Resolver {
	return NewResolver(DefaultCatalog(), dir, RoleViewer, func() bool { return devGrantAll }, slog.Default())
}

func TestResolveAnonymousFallsBackToViewer(t *testing.T) {
	dir := &stubDirectory{}
	resolver := newTestResolver(dir, false)

	record, err := resolver.Resolve(context.Background(), Identity{}, &stubOverrideStore{})
	require.NoError(t, err)
	require.Equal(t, []string{RoleViewer}, record.EffectiveRoles)
	require.Equal(t, 0, record.Level)
	require.False(t, record.CanSubmitRequests)
	require.Zero(t, dir.bootstrapCalls, "anonymous identities skip bootstrap")
}

func TestResolveNonAdminClearsOverride(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{"pat": {RoleEditor}}}
	resolver := newTestResolver(dir, false)
	sess := &stubOverrideStore{override: RoleViewer}

	record, err := resolver.Resolve(context.Background(), Identity{Principal: "pat"}, sess)
	require.NoError(t, err)
	require.Equal(t, []string{RoleEditor}, record.EffectiveRoles)
	require.True(t, sess.cleared, "non-admin sessions lose their override")
	require.Empty(t, sess.override)
}

func TestResolveAdminHonorsValidOverride(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{"pat": {RoleAdmin}}}
	resolver := newTestResolver(dir, false)
	sess := &stubOverrideStore{override: RoleViewer}

	record, err := resolver.Resolve(context.Background(), Identity{Principal: "pat"}, sess)
	require.NoError(t, err)
	require.Equal(t, []string{RoleViewer}, record.EffectiveRoles)
	require.Equal(t, 0, record.Level)
	require.Equal(t, []string{RoleAdmin}, record.RawRoles)
}

func TestResolveAdminClearsUnknownOverride(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{"pat": {RoleAdmin}}}
	resolver := newTestResolver(dir, false)
	sess := &stubOverrideStore{override: "intern"}

	record, err := resolver.Resolve(context.Background(), Identity{Principal: "pat"}, sess)
	require.NoError(t, err)
	require.Equal(t, []string{RoleAdmin}, record.EffectiveRoles)
	require.True(t, sess.cleared)
}

func TestResolveDevGrantAll(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{"pat": {RoleViewer}}}
	resolver := newTestResolver(dir, true)
	sess := &stubOverrideStore{override: RoleViewer}

	record, err := resolver.Resolve(context.Background(), Identity{Principal: "pat"}, sess)
	require.NoError(t, err)
	require.Equal(t, []string{RoleAdmin}, record.EffectiveRoles)
	require.Equal(t, []string{RoleAdmin}, record.RawRoles)
	require.Equal(t, MaxLevel, record.Level)
	require.Empty(t, sess.override)
}

func TestResolveCapabilityDefaults(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{
		"viewer":  {RoleViewer},
		"editor":  {RoleEditor},
		"steward": {RoleSteward},
		"admin":   {RoleAdmin},
	}}
	resolver := newTestResolver(dir, false)

	viewer, err := resolver.Resolve(context.Background(), Identity{Principal: "viewer"}, nil)
	require.NoError(t, err)
	require.True(t, viewer.CanSubmitRequests)
	require.False(t, viewer.CanEdit)
	require.False(t, viewer.CanApproveRequests)
	require.False(t, viewer.CanDirectApply)

	editor, err := resolver.Resolve(context.Background(), Identity{Principal: "editor"}, nil)
	require.NoError(t, err)
	require.True(t, editor.CanEdit)
	require.True(t, editor.CanReport)
	require.False(t, editor.CanApproveRequests)

	steward, err := resolver.Resolve(context.Background(), Identity{Principal: "steward"}, nil)
	require.NoError(t, err)
	require.True(t, steward.CanApproveRequests)
	require.False(t, steward.CanDirectApply)

	admin, err := resolver.Resolve(context.Background(), Identity{Principal: "admin"}, nil)
	require.NoError(t, err)
	require.True(t, admin.CanApproveRequests)
	require.True(t, admin.CanDirectApply)
}

func TestResolveOverrideRecordWinsFieldByField(t *testing.T) {
	no := false
	yes := true
	dir := &stubDirectory{
		roles:    map[string][]string{"pat": {RoleAdmin}},
		override: &PolicyOverride{CanDirectApply: &no, CanReport: &yes},
	}
	resolver := newTestResolver(dir, false)

	record, err := resolver.Resolve(context.Background(), Identity{Principal: "pat"}, nil)
	require.NoError(t, err)
	require.False(t, record.CanDirectApply, "override field takes precedence")
	require.True(t, record.CanReport)
	require.True(t, record.CanEdit, "unset fields keep role defaults")
}

func TestCanApplyChangeLevelComparison(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{
		"viewer": {RoleViewer},
		"admin":  {RoleAdmin},
	}}
	resolver := newTestResolver(dir, false)

	viewer, err := resolver.Resolve(context.Background(), Identity{Principal: "viewer"}, nil)
	require.NoError(t, err)
	require.False(t, resolver.CanApplyChange(viewer, ChangeAddProjectNote),
		"level 0 viewer must route through submit")

	admin, err := resolver.Resolve(context.Background(), Identity{Principal: "admin"}, nil)
	require.NoError(t, err)
	require.True(t, resolver.CanApplyChange(admin, ChangeGrantScope),
		"level 10 admin may direct-apply grant_scope")
	require.True(t, resolver.CanApplyChange(admin, "unlisted_type"))
}

func TestCanApplyChangeAllowList(t *testing.T) {
	dir := &stubDirectory{
		roles:    map[string][]string{"pat": {RoleAdmin}},
		override: &PolicyOverride{AllowedChangeTypes: []string{ChangeAddOffering}},
	}
	resolver := newTestResolver(dir, false)

	record, err := resolver.Resolve(context.Background(), Identity{Principal: "pat"}, nil)
	require.NoError(t, err)
	require.True(t, resolver.CanApplyChange(record, ChangeAddOffering))
	require.False(t, resolver.CanApplyChange(record, ChangeUpdateContract),
		"catalog type missing from allow-list is denied despite level")
	require.True(t, resolver.CanApplyChange(record, "unlisted_type"),
		"allow-list only constrains catalog change types")
}

func TestCanReviewChangeRequiresApproveCapability(t *testing.T) {
	dir := &stubDirectory{roles: map[string][]string{"pat": {RoleEditor}}}
	resolver := newTestResolver(dir, false)

	record, err := resolver.Resolve(context.Background(), Identity{Principal: "pat"}, nil)
	require.NoError(t, err)
	require.False(t, resolver.CanReviewChange(record, 3), "level alone is not enough")

	dir.roles["pat"] = []string{RoleSteward}
	record, err = resolver.Resolve(context.Background(), Identity{Principal: "pat"}, nil)
	require.NoError(t, err)
	require.True(t, resolver.CanReviewChange(record, 7))
	require.False(t, resolver.CanReviewChange(record, 8))
	require.True(t, resolver.CanReviewChange(record, 0), "required level clamps up to 1")
}

func TestResolveCollaboratorFailure(t *testing.T) {
	dir := &stubDirectory{bootstrapErr: errors.New("ldap down")}
	resolver := newTestResolver(dir, false)

	_, err := resolver.Resolve(context.Background(), Identity{Principal: "pat"}, nil)
	require.ErrorIs(t, err, ErrCollaborator)
}

func TestNormalizedGroups(t *testing.T) {
	ident := Identity{Principal: "pat", Groups: []string{" Catalog-Admins ", "catalog-admins", "", "Zeta", "alpha"}}
	require.Equal(t, []string{"alpha", "catalog-admins", "zeta"}, ident.NormalizedGroups())
}
