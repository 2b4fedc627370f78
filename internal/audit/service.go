package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calyx-catalog/calyx/internal/authz"
)

// Repository fetches timeline windows. The window query over-fetches by
// one row so the service can report has-next without a count query.
type Repository interface {
	TimelineWindow(ctx context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error)
}

// Service coordinates audit timeline reads.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline fetches one page of the audit timeline.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.repo.TimelineWindow(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// PGRepository reads audit_logs directly.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the PostgreSQL repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// TimelineWindow implements Repository.
func (r *PGRepository) TimelineWindow(ctx context.Context, f TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	query := `SELECT occurred_at, actor, action, entity, entity_id, before, after FROM audit_logs WHERE 1=1`
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "occurred_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "occurred_at <= "+arg(f.To))
	}
	if actor := strings.TrimSpace(f.Actor); actor != "" {
		clauses = append(clauses, "actor = "+arg(actor))
	}
	if entity := strings.TrimSpace(f.Entity); entity != "" {
		clauses = append(clauses, "entity = "+arg(entity))
	}
	if action := strings.TrimSpace(f.Action); action != "" {
		clauses = append(clauses, "action = "+arg(action))
	}
	for _, clause := range clauses {
		query += " AND " + clause
	}
	query += " ORDER BY occurred_at DESC LIMIT " + arg(limit) + " OFFSET " + arg(offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: audit timeline: %v", authz.ErrCollaborator, err)
	}
	defer rows.Close()

	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.At, &row.Actor, &row.Action, &row.Entity, &row.EntityID, &row.Before, &row.After); err != nil {
			return nil, fmt.Errorf("%w: scan audit row: %v", authz.ErrCollaborator, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
