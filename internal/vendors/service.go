package vendors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/calyx-catalog/calyx/internal/authz"
	"github.com/calyx-catalog/calyx/internal/changereq"
)

// ScopeGranter applies approved grant_scope requests. The scopes
// service satisfies it.
type ScopeGranter interface {
	Grant(ctx context.Context, grant authz.ScopeGrant) error
}

// Service wraps the repository with validation and serves as the
// workflow's vendor directory and change applier.
type Service struct {
	repo    Repository
	granter ScopeGranter
	logger  *slog.Logger
}

// NewService constructs a Service. granter may be nil; approved
// grant_scope requests then fail application.
func NewService(repo Repository, granter ScopeGranter, logger *slog.Logger) *Service {
	return &Service{repo: repo, granter: granter, logger: logger}
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Vendor, int, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Detail(ctx context.Context, id uuid.UUID) (Detail, error) {
	return s.repo.Detail(ctx, id)
}

func (s *Service) Create(ctx context.Context, v Vendor) (Vendor, error) {
	if strings.TrimSpace(v.Name) == "" || strings.TrimSpace(v.OwnerOrg) == "" {
		return Vendor{}, fmt.Errorf("%w: vendor name and owner org required", authz.ErrValidation)
	}
	return s.repo.Create(ctx, v)
}

// VendorOrgs implements changereq.VendorDirectory.
func (s *Service) VendorOrgs(ctx context.Context, vendorID string) (string, []string, error) {
	id, err := uuid.Parse(vendorID)
	if err != nil {
		return "", nil, fmt.Errorf("%w: malformed vendor id %q", authz.ErrValidation, vendorID)
	}
	return s.repo.VendorOrgs(ctx, id)
}

// Apply implements changereq.Applier: it routes an approved request's
// payload to the matching catalog mutation.
func (s *Service) Apply(ctx context.Context, req changereq.ChangeRequest) error {
	if req.ChangeType == authz.ChangeGrantScope {
		return s.applyGrant(ctx, req)
	}

	vendorID, err := uuid.Parse(req.VendorScope)
	if err != nil {
		return fmt.Errorf("%w: malformed vendor scope %q", authz.ErrValidation, req.VendorScope)
	}

	switch req.ChangeType {
	case authz.ChangeAddProjectNote:
		var note ProjectNote
		if err := decodePayload(req.Payload, &note); err != nil {
			return err
		}
		note.VendorID = vendorID
		if note.Author == "" {
			note.Author = req.Requestor
		}
		_, err := s.repo.AddNote(ctx, note)
		return err

	case authz.ChangeUpdateVendorProfile:
		var update ProfileUpdate
		if err := decodePayload(req.Payload, &update); err != nil {
			return err
		}
		return s.repo.UpdateProfile(ctx, vendorID, update)

	case authz.ChangeAddOffering:
		var offering Offering
		if err := decodePayload(req.Payload, &offering); err != nil {
			return err
		}
		offering.VendorID = vendorID
		_, err := s.repo.AddOffering(ctx, offering)
		return err

	case authz.ChangeUpdateContract:
		var contract Contract
		if err := decodePayload(req.Payload, &contract); err != nil {
			return err
		}
		contract.VendorID = vendorID
		return s.repo.UpdateContract(ctx, contract)

	case authz.ChangeArchiveVendor:
		return s.repo.Archive(ctx, vendorID)

	default:
		return fmt.Errorf("%w: no applier for change type %q", authz.ErrValidation, req.ChangeType)
	}
}

func (s *Service) applyGrant(ctx context.Context, req changereq.ChangeRequest) error {
	if s.granter == nil {
		return fmt.Errorf("%w: no scope granter configured", authz.ErrCollaborator)
	}
	var grant struct {
		Principal string `json:"principal"`
		Org       string `json:"org"`
		Level     string `json:"level"`
	}
	if err := decodePayload(req.Payload, &grant); err != nil {
		return err
	}
	level, err := authz.ParseScopeLevel(grant.Level)
	if err != nil {
		return err
	}
	return s.granter.Grant(ctx, authz.ScopeGrant{
		Principal: grant.Principal,
		Org:       grant.Org,
		Level:     level,
		GrantedBy: req.DecidedBy,
	})
}

func decodePayload(payload map[string]any, target any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", authz.ErrValidation, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: decode payload: %v", authz.ErrValidation, err)
	}
	return nil
}
