package vendors

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/calyx-catalog/calyx/internal/authz"
	"github.com/calyx-catalog/calyx/internal/changereq"
)

type memoryRepo struct {
	vendors   map[uuid.UUID]Vendor
	offerings map[uuid.UUID][]Offering
	contracts map[uuid.UUID]Contract
	notes     []ProjectNote
	updates   []ProfileUpdate
	archived  []uuid.UUID
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		vendors:   map[uuid.UUID]Vendor{},
		offerings: map[uuid.UUID][]Offering{},
		contracts: map[uuid.UUID]Contract{},
	}
}

func (m *memoryRepo) List(ctx context.Context, f ListFilter) ([]Vendor, int, error) {
	var out []Vendor
	for _, v := range m.vendors {
		if !f.IncludeArchived && v.Archived {
			continue
		}
		out = append(out, v)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Vendor, error) {
	v, ok := m.vendors[id]
	if !ok {
		return Vendor{}, authz.ErrNotFound
	}
	return v, nil
}

func (m *memoryRepo) Detail(ctx context.Context, id uuid.UUID) (Detail, error) {
	v, err := m.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Vendor: v, Offerings: m.offerings[id]}, nil
}

func (m *memoryRepo) Create(ctx context.Context, v Vendor) (Vendor, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	m.vendors[v.ID] = v
	return v, nil
}

func (m *memoryRepo) UpdateProfile(ctx context.Context, id uuid.UUID, update ProfileUpdate) error {
	if _, ok := m.vendors[id]; !ok {
		return authz.ErrNotFound
	}
	m.updates = append(m.updates, update)
	return nil
}

func (m *memoryRepo) Archive(ctx context.Context, id uuid.UUID) error {
	v, ok := m.vendors[id]
	if !ok {
		return authz.ErrNotFound
	}
	v.Archived = true
	m.vendors[id] = v
	m.archived = append(m.archived, id)
	return nil
}

func (m *memoryRepo) AddOffering(ctx context.Context, o Offering) (Offering, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	m.offerings[o.VendorID] = append(m.offerings[o.VendorID], o)
	return o, nil
}

func (m *memoryRepo) UpdateContract(ctx context.Context, c Contract) error {
	if _, ok := m.contracts[c.ID]; !ok {
		return authz.ErrNotFound
	}
	m.contracts[c.ID] = c
	return nil
}

func (m *memoryRepo) AddNote(ctx context.Context, n ProjectNote) (ProjectNote, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	m.notes = append(m.notes, n)
	return n, nil
}

func (m *memoryRepo) VendorOrgs(ctx context.Context, id uuid.UUID) (string, []string, error) {
	v, err := m.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	var lobs []string
	for _, o := range m.offerings[id] {
		lobs = append(lobs, o.LOB)
	}
	return v.OwnerOrg, lobs, nil
}

type recordingGranter struct {
	grants []authz.ScopeGrant
}

func (r *recordingGranter) Grant(ctx context.Context, grant authz.ScopeGrant) error {
	r.grants = append(r.grants, grant)
	return nil
}

func newTestService(repo Repository, granter ScopeGranter) *Service {
	return NewService(repo, granter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seedVendor(t *testing.T, repo *memoryRepo) Vendor {
	t.Helper()
	v, err := repo.Create(context.Background(), Vendor{Name: "Acme Networks", OwnerOrg: "it-infra"})
	require.NoError(t, err)
	return v
}

func TestCreateValidatesRequiredFields(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	_, err := svc.Create(context.Background(), Vendor{Name: "  "})
	require.ErrorIs(t, err, authz.ErrValidation)
}

func TestVendorOrgsRejectsMalformedID(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	_, _, err := svc.VendorOrgs(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, authz.ErrValidation)
}

func TestApplyRoutesProfileUpdate(t *testing.T) {
	repo := newMemoryRepo()
	vendor := seedVendor(t, repo)
	svc := newTestService(repo, nil)

	err := svc.Apply(context.Background(), changereq.ChangeRequest{
		ChangeType:  authz.ChangeUpdateVendorProfile,
		VendorScope: vendor.ID.String(),
		Payload:     map[string]any{"website": "https://acme.example"},
	})
	require.NoError(t, err)
	require.Len(t, repo.updates, 1)
	require.Equal(t, "https://acme.example", repo.updates[0].Website)
}

func TestApplyRoutesNoteWithRequestorAuthor(t *testing.T) {
	repo := newMemoryRepo()
	vendor := seedVendor(t, repo)
	svc := newTestService(repo, nil)

	err := svc.Apply(context.Background(), changereq.ChangeRequest{
		ChangeType:  authz.ChangeAddProjectNote,
		VendorScope: vendor.ID.String(),
		Requestor:   "casey",
		Payload:     map[string]any{"project": "migration", "body": "kickoff done"},
	})
	require.NoError(t, err)
	require.Len(t, repo.notes, 1)
	require.Equal(t, "casey", repo.notes[0].Author)
	require.Equal(t, vendor.ID, repo.notes[0].VendorID)
}

func TestApplyRoutesOfferingAndArchive(t *testing.T) {
	repo := newMemoryRepo()
	vendor := seedVendor(t, repo)
	svc := newTestService(repo, nil)

	err := svc.Apply(context.Background(), changereq.ChangeRequest{
		ChangeType:  authz.ChangeAddOffering,
		VendorScope: vendor.ID.String(),
		Payload:     map[string]any{"name": "Managed WAN", "lob": "it-infra"},
	})
	require.NoError(t, err)
	require.Len(t, repo.offerings[vendor.ID], 1)

	err = svc.Apply(context.Background(), changereq.ChangeRequest{
		ChangeType:  authz.ChangeArchiveVendor,
		VendorScope: vendor.ID.String(),
	})
	require.NoError(t, err)
	require.True(t, repo.vendors[vendor.ID].Archived)
}

func TestApplyRoutesGrantScope(t *testing.T) {
	granter := &recordingGranter{}
	svc := newTestService(newMemoryRepo(), granter)

	err := svc.Apply(context.Background(), changereq.ChangeRequest{
		ChangeType:  authz.ChangeGrantScope,
		VendorScope: authz.GlobalVendorScope,
		DecidedBy:   "root",
		Payload:     map[string]any{"principal": "casey", "org": "fin-ops", "level": "edit"},
	})
	require.NoError(t, err)
	require.Len(t, granter.grants, 1)
	require.Equal(t, authz.ScopeEdit, granter.grants[0].Level)
	require.Equal(t, "root", granter.grants[0].GrantedBy)
}

func TestApplyGrantScopeWithoutGranterFails(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	err := svc.Apply(context.Background(), changereq.ChangeRequest{
		ChangeType:  authz.ChangeGrantScope,
		VendorScope: authz.GlobalVendorScope,
		Payload:     map[string]any{"principal": "casey", "org": "fin-ops", "level": "edit"},
	})
	require.ErrorIs(t, err, authz.ErrCollaborator)
}

func TestApplyRejectsUnknownChangeType(t *testing.T) {
	repo := newMemoryRepo()
	vendor := seedVendor(t, repo)
	svc := newTestService(repo, nil)

	err := svc.Apply(context.Background(), changereq.ChangeRequest{
		ChangeType:  "rename_vendor",
		VendorScope: vendor.ID.String(),
	})
	require.ErrorIs(t, err, authz.ErrValidation)
}
