// Package directory is the identity collaborator: it resolves raw role
// memberships for principals and groups, serves the known-role set and
// per-role policy overrides, and owns the global policy version counter.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/calyx-catalog/calyx/internal/authz"
)

// Service provides PostgreSQL backed identity lookups.
type Service struct {
	pool   *pgxpool.Pool
	flight singleflight.Group
	logger *slog.Logger
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// BootstrapAccess returns the union of roles assigned to the principal
// directly and through its group principals. Concurrent lookups for the
// same inputs are collapsed into one query.
func (s *Service) BootstrapAccess(ctx context.Context, principal string, groups []string) ([]string, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return nil, nil
	}
	key := principal + "|" + strings.Join(groups, ",")
	result, err, _ := s.flight.Do(key, func() (any, error) {
		return s.queryRoles(ctx, principal, groups)
	})
	if err != nil {
		return nil, err
	}
	roles := result.([]string)
	return append([]string(nil), roles...), nil
}

func (s *Service) queryRoles(ctx context.Context, principal string, groups []string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT role_code FROM user_roles WHERE principal = $1
UNION
SELECT role_code FROM group_roles WHERE group_principal = ANY($2)
ORDER BY role_code`, principal, groups)
	if err != nil {
		return nil, fmt.Errorf("directory: bootstrap access: %w", err)
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		roles = append(roles, code)
	}
	return roles, rows.Err()
}

// ListKnownRoles returns all role codes the system recognizes.
func (s *Service) ListKnownRoles(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT code FROM roles ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("directory: list known roles: %w", err)
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		roles = append(roles, code)
	}
	return roles, rows.Err()
}

// ResolveRolePolicy merges the stored policy override rows for the
// given roles into one record. Returns nil when no override exists.
func (s *Service) ResolveRolePolicy(ctx context.Context, roles []string) (*authz.PolicyOverride, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT can_edit, can_report, can_submit_requests, can_approve_requests, can_direct_apply, allowed_change_types
FROM role_policies WHERE role_code = ANY($1)`, roles)
	if err != nil {
		return nil, fmt.Errorf("directory: resolve role policy: %w", err)
	}
	defer rows.Close()

	var override *authz.PolicyOverride
	for rows.Next() {
		var (
			canEdit, canReport, canSubmit, canApprove, canDirect *bool
			allowed                                              []string
		)
		if err := rows.Scan(&canEdit, &canReport, &canSubmit, &canApprove, &canDirect, &allowed); err != nil {
			return nil, err
		}
		if override == nil {
			override = &authz.PolicyOverride{}
		}
		mergeBool(&override.CanEdit, canEdit)
		mergeBool(&override.CanReport, canReport)
		mergeBool(&override.CanSubmitRequests, canSubmit)
		mergeBool(&override.CanApproveRequests, canApprove)
		mergeBool(&override.CanDirectApply, canDirect)
		if allowed != nil {
			override.AllowedChangeTypes = mergeList(override.AllowedChangeTypes, allowed)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return override, nil
}

// PolicyVersion returns the monotonic counter bumped by every role and
// scope admin mutation.
func (s *Service) PolicyVersion(ctx context.Context) (int64, error) {
	var version int64
	if err := s.pool.QueryRow(ctx, `SELECT version FROM policy_version WHERE id = 1`).Scan(&version); err != nil {
		return 0, fmt.Errorf("directory: policy version: %w", err)
	}
	return version, nil
}

// A capability granted by any of the caller's roles wins over one
// withheld by another.
func mergeBool(dst **bool, src *bool) {
	if src == nil {
		return
	}
	if *dst == nil {
		v := *src
		*dst = &v
		return
	}
	if *src {
		**dst = true
	}
}

func mergeList(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	// Non-nil result marks an allow-list as present even when empty.
	if dst == nil {
		dst = []string{}
	}
	for _, v := range src {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
