package changereq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calyx-catalog/calyx/internal/authz"
	"github.com/calyx-catalog/calyx/internal/platform/db"
	"github.com/calyx-catalog/calyx/internal/shared"
)

// Repository abstracts change-request persistence. The in-memory test
// double and the PostgreSQL implementation both satisfy it.
type Repository interface {
	Create(ctx context.Context, req ChangeRequest) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (ChangeRequest, error)
	// Decide performs the status-guarded terminal transition and the
	// audit append in one atomic unit. It returns false when the guard
	// missed, i.e. the row no longer carries the expected status.
	Decide(ctx context.Context, id uuid.UUID, from, to Status, actor, notes string, at time.Time, audit shared.AuditLog) (bool, error)
	List(ctx context.Context, f Filter) ([]ChangeRequest, error)
}

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool  *pgxpool.Pool
	audit *shared.AuditLogger
}

// NewPGRepository constructs a repository.
func NewPGRepository(pool *pgxpool.Pool, audit *shared.AuditLogger) *PGRepository {
	return &PGRepository{pool: pool, audit: audit}
}

// Create inserts a new change request.
func (r *PGRepository) Create(ctx context.Context, req ChangeRequest) (uuid.UUID, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("changereq: marshal payload: %w", err)
	}
	meta, err := json.Marshal(req.Meta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("changereq: marshal meta: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO change_requests
(id, change_type, vendor_scope, requestor, assignee, payload, meta, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		req.ID, req.ChangeType, req.VendorScope, req.Requestor, req.Assignee, payload, meta, string(StatusSubmitted))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: create change request: %v", authz.ErrCollaborator, err)
	}
	return req.ID, nil
}

// Get fetches a change request by id.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (ChangeRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, change_type, vendor_scope, requestor, assignee, payload, meta, status, created_at, decided_at, decided_by, notes
FROM change_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChangeRequest{}, fmt.Errorf("%w: change request %s", authz.ErrNotFound, id)
		}
		return ChangeRequest{}, fmt.Errorf("%w: get change request: %v", authz.ErrCollaborator, err)
	}
	return req, nil
}

// Decide runs the guarded update and the audit append in one
// transaction. A guard miss rolls the transaction back and reports
// false so the caller can take the idempotent path.
func (r *PGRepository) Decide(ctx context.Context, id uuid.UUID, from, to Status, actor, notes string, at time.Time, audit shared.AuditLog) (bool, error) {
	applied := false
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE change_requests
SET status = $1, decided_by = $2, decided_at = $3, notes = $4
WHERE id = $5 AND status = $6`, string(to), actor, at, notes, id, string(from))
		if err != nil {
			return fmt.Errorf("%w: decide change request: %v", authz.ErrCollaborator, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true
		return r.audit.RecordTx(ctx, tx, audit)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// List returns requests matching the SQL-expressible filter fields;
// scope- and search-dependent filtering happens in the queue view.
func (r *PGRepository) List(ctx context.Context, f Filter) ([]ChangeRequest, error) {
	query := `SELECT id, change_type, vendor_scope, requestor, assignee, payload, meta, status, created_at, decided_at, decided_by, notes
FROM change_requests`
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		status, err := ParseStatus(f.Status)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, "status = "+arg(string(status)))
	}
	if f.Requestor != "" {
		clauses = append(clauses, "requestor = "+arg(f.Requestor))
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee = "+arg(f.Assignee))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list change requests: %v", authz.ErrCollaborator, err)
	}
	defer rows.Close()
	var out []ChangeRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan change request: %v", authz.ErrCollaborator, err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (ChangeRequest, error) {
	var (
		req       ChangeRequest
		payload   []byte
		meta      []byte
		status    string
		decidedAt *time.Time
		decidedBy *string
		notes     *string
		assignee  *string
	)
	if err := row.Scan(&req.ID, &req.ChangeType, &req.VendorScope, &req.Requestor, &assignee, &payload, &meta, &status, &req.CreatedAt, &decidedAt, &decidedBy, &notes); err != nil {
		return ChangeRequest{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req.Payload); err != nil {
			return ChangeRequest{}, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &req.Meta); err != nil {
			return ChangeRequest{}, err
		}
	}
	req.Status = Status(status)
	req.DecidedAt = decidedAt
	if assignee != nil {
		req.Assignee = *assignee
	}
	if decidedBy != nil {
		req.DecidedBy = *decidedBy
	}
	if notes != nil {
		req.Notes = *notes
	}
	return req, nil
}
