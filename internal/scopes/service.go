// Package scopes is the admin surface for line-of-business scope
// grants. Every grant or revoke bumps the global policy version inside
// the same transaction, so cached policy snapshots cannot outlive an
// unaccounted write.
package scopes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calyx-catalog/calyx/internal/authz"
	"github.com/calyx-catalog/calyx/internal/platform/db"
	"github.com/calyx-catalog/calyx/internal/shared"
)

// Service manages scope grants.
type Service struct {
	pool   *pgxpool.Pool
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(pool *pgxpool.Pool, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{pool: pool, audit: audit, logger: logger}
}

// Grant records a scope grant and bumps the policy version.
func (s *Service) Grant(ctx context.Context, grant authz.ScopeGrant) error {
	grant.Principal = strings.TrimSpace(grant.Principal)
	grant.Org = strings.ToLower(strings.TrimSpace(grant.Org))
	if grant.Principal == "" || grant.Org == "" {
		return fmt.Errorf("%w: principal and org required", authz.ErrValidation)
	}
	if grant.Level < authz.ScopeView || grant.Level > authz.ScopeAdmin {
		return fmt.Errorf("%w: invalid scope level", authz.ErrValidation)
	}

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO scope_grants (principal, org, level, granted_by, granted_at)
VALUES ($1, $2, $3, $4, NOW())`, grant.Principal, grant.Org, grant.Level.String(), grant.GrantedBy)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: grant already exists for %s/%s", authz.ErrValidation, grant.Principal, grant.Org)
			}
			return fmt.Errorf("%w: insert grant: %v", authz.ErrCollaborator, err)
		}
		if err := bumpPolicyVersion(ctx, tx); err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditLog{
			Actor:    grant.GrantedBy,
			Action:   "grant_scope",
			Entity:   "scope_grant",
			EntityID: grant.Principal + "/" + grant.Org,
			After:    map[string]any{"level": grant.Level.String()},
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("scope granted",
		slog.String("principal", grant.Principal),
		slog.String("org", grant.Org),
		slog.String("level", grant.Level.String()))
	return nil
}

// Revoke removes a scope grant and bumps the policy version.
func (s *Service) Revoke(ctx context.Context, principal, org, actor string) error {
	principal = strings.TrimSpace(principal)
	org = strings.ToLower(strings.TrimSpace(org))
	if principal == "" || org == "" {
		return fmt.Errorf("%w: principal and org required", authz.ErrValidation)
	}

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM scope_grants WHERE principal = $1 AND org = $2`, principal, org)
		if err != nil {
			return fmt.Errorf("%w: delete grant: %v", authz.ErrCollaborator, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: no grant for %s/%s", authz.ErrNotFound, principal, org)
		}
		if err := bumpPolicyVersion(ctx, tx); err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditLog{
			Actor:    actor,
			Action:   "revoke_scope",
			Entity:   "scope_grant",
			EntityID: principal + "/" + org,
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("scope revoked", slog.String("principal", principal), slog.String("org", org))
	return nil
}

// ListGrants returns the grants held by a principal. Implements
// authz.GrantSource for the snapshot cache.
func (s *Service) ListGrants(ctx context.Context, principal string) ([]authz.ScopeGrant, error) {
	return s.list(ctx, `SELECT principal, org, level, granted_by, granted_at
FROM scope_grants WHERE principal = $1 ORDER BY org`, principal)
}

// ListAll returns every grant, for the admin overview.
func (s *Service) ListAll(ctx context.Context) ([]authz.ScopeGrant, error) {
	return s.list(ctx, `SELECT principal, org, level, granted_by, granted_at
FROM scope_grants ORDER BY principal, org`)
}

func (s *Service) list(ctx context.Context, query string, args ...any) ([]authz.ScopeGrant, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scopes: list: %w", err)
	}
	defer rows.Close()
	var grants []authz.ScopeGrant
	for rows.Next() {
		var (
			grant authz.ScopeGrant
			level string
			at    time.Time
		)
		if err := rows.Scan(&grant.Principal, &grant.Org, &level, &grant.GrantedBy, &at); err != nil {
			return nil, err
		}
		parsed, err := authz.ParseScopeLevel(level)
		if err != nil {
			s.logger.Warn("skipping grant with unknown level",
				slog.String("principal", grant.Principal), slog.String("level", level))
			continue
		}
		grant.Level = parsed
		grant.GrantedAt = at
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

func bumpPolicyVersion(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `UPDATE policy_version SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("%w: bump policy version: %v", authz.ErrCollaborator, err)
	}
	return nil
}
