package vendors

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calyx-catalog/calyx/internal/authz"
)

// Repository abstracts catalog persistence.
type Repository interface {
	List(ctx context.Context, f ListFilter) ([]Vendor, int, error)
	Get(ctx context.Context, id uuid.UUID) (Vendor, error)
	Detail(ctx context.Context, id uuid.UUID) (Detail, error)
	Create(ctx context.Context, v Vendor) (Vendor, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, update ProfileUpdate) error
	Archive(ctx context.Context, id uuid.UUID) error
	AddOffering(ctx context.Context, o Offering) (Offering, error)
	UpdateContract(ctx context.Context, c Contract) error
	AddNote(ctx context.Context, n ProjectNote) (ProjectNote, error)
	// VendorOrgs returns the owner org and the distinct offering LOBs,
	// the full org set a vendor-bound scope check runs over.
	VendorOrgs(ctx context.Context, id uuid.UUID) (string, []string, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, f ListFilter) ([]Vendor, int, error) {
	query := `SELECT id, name, owner_org, website, contact, archived, created_at, updated_at FROM vendors WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM vendors WHERE 1=1`
	args := []any{}
	clause := ""

	if !f.IncludeArchived {
		clause += ` AND archived = FALSE`
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		clause += ` AND name ILIKE $` + strconv.Itoa(len(args))
	}
	if f.OwnerOrg != "" {
		args = append(args, f.OwnerOrg)
		clause += ` AND LOWER(owner_org) = LOWER($` + strconv.Itoa(len(args)) + `)`
	}
	query += clause
	countQuery += clause

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, wrap("count vendors", err)
	}

	query += " ORDER BY name ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		offset := (f.Page - 1) * f.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, wrap("list vendors", err)
	}
	defer rows.Close()

	var out []Vendor
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.OwnerOrg, &v.Website, &v.Contact, &v.Archived, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, 0, wrap("scan vendor", err)
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Vendor, error) {
	var v Vendor
	err := r.db.QueryRow(ctx, `SELECT id, name, owner_org, website, contact, archived, created_at, updated_at
FROM vendors WHERE id = $1`, id).Scan(&v.ID, &v.Name, &v.OwnerOrg, &v.Website, &v.Contact, &v.Archived, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vendor{}, fmt.Errorf("%w: vendor %s", authz.ErrNotFound, id)
		}
		return Vendor{}, wrap("get vendor", err)
	}
	return v, nil
}

func (r *repository) Detail(ctx context.Context, id uuid.UUID) (Detail, error) {
	vendor, err := r.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{Vendor: vendor}

	rows, err := r.db.Query(ctx, `SELECT id, vendor_id, name, lob FROM offerings WHERE vendor_id = $1 ORDER BY name`, id)
	if err != nil {
		return Detail{}, wrap("list offerings", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o Offering
		if err := rows.Scan(&o.ID, &o.VendorID, &o.Name, &o.LOB); err != nil {
			return Detail{}, wrap("scan offering", err)
		}
		d.Offerings = append(d.Offerings, o)
	}
	if err := rows.Err(); err != nil {
		return Detail{}, wrap("list offerings", err)
	}

	crows, err := r.db.Query(ctx, `SELECT id, vendor_id, title, amount_cents, starts_on, ends_on
FROM contracts WHERE vendor_id = $1 ORDER BY starts_on DESC`, id)
	if err != nil {
		return Detail{}, wrap("list contracts", err)
	}
	defer crows.Close()
	for crows.Next() {
		var c Contract
		if err := crows.Scan(&c.ID, &c.VendorID, &c.Title, &c.AmountCents, &c.StartsOn, &c.EndsOn); err != nil {
			return Detail{}, wrap("scan contract", err)
		}
		d.Contracts = append(d.Contracts, c)
	}
	if err := crows.Err(); err != nil {
		return Detail{}, wrap("list contracts", err)
	}

	nrows, err := r.db.Query(ctx, `SELECT id, vendor_id, project, author, body, created_at
FROM project_notes WHERE vendor_id = $1 ORDER BY created_at DESC`, id)
	if err != nil {
		return Detail{}, wrap("list notes", err)
	}
	defer nrows.Close()
	for nrows.Next() {
		var n ProjectNote
		if err := nrows.Scan(&n.ID, &n.VendorID, &n.Project, &n.Author, &n.Body, &n.CreatedAt); err != nil {
			return Detail{}, wrap("scan note", err)
		}
		d.Notes = append(d.Notes, n)
	}
	return d, nrows.Err()
}

func (r *repository) Create(ctx context.Context, v Vendor) (Vendor, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := time.Now()
	_, err := r.db.Exec(ctx, `INSERT INTO vendors (id, name, owner_org, website, contact, archived, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6)`, v.ID, v.Name, v.OwnerOrg, v.Website, v.Contact, now)
	if err != nil {
		return Vendor{}, wrap("create vendor", err)
	}
	v.CreatedAt = now
	v.UpdatedAt = now
	return v, nil
}

func (r *repository) UpdateProfile(ctx context.Context, id uuid.UUID, update ProfileUpdate) error {
	tag, err := r.db.Exec(ctx, `UPDATE vendors SET
name = COALESCE(NULLIF($1, ''), name),
website = COALESCE(NULLIF($2, ''), website),
contact = COALESCE(NULLIF($3, ''), contact),
updated_at = NOW()
WHERE id = $4`, update.Name, update.Website, update.Contact, id)
	if err != nil {
		return wrap("update vendor profile", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: vendor %s", authz.ErrNotFound, id)
	}
	return nil
}

func (r *repository) Archive(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE vendors SET archived = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return wrap("archive vendor", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: vendor %s", authz.ErrNotFound, id)
	}
	return nil
}

func (r *repository) AddOffering(ctx context.Context, o Offering) (Offering, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO offerings (id, vendor_id, name, lob) VALUES ($1, $2, $3, $4)`,
		o.ID, o.VendorID, o.Name, o.LOB)
	if err != nil {
		return Offering{}, wrap("add offering", err)
	}
	return o, nil
}

func (r *repository) UpdateContract(ctx context.Context, c Contract) error {
	tag, err := r.db.Exec(ctx, `UPDATE contracts SET title = $1, amount_cents = $2, starts_on = $3, ends_on = $4
WHERE id = $5 AND vendor_id = $6`, c.Title, c.AmountCents, c.StartsOn, c.EndsOn, c.ID, c.VendorID)
	if err != nil {
		return wrap("update contract", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: contract %s", authz.ErrNotFound, c.ID)
	}
	return nil
}

func (r *repository) AddNote(ctx context.Context, n ProjectNote) (ProjectNote, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := time.Now()
	_, err := r.db.Exec(ctx, `INSERT INTO project_notes (id, vendor_id, project, author, body, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, n.ID, n.VendorID, n.Project, n.Author, n.Body, now)
	if err != nil {
		return ProjectNote{}, wrap("add note", err)
	}
	n.CreatedAt = now
	return n, nil
}

func (r *repository) VendorOrgs(ctx context.Context, id uuid.UUID) (string, []string, error) {
	vendor, err := r.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT DISTINCT lob FROM offerings WHERE vendor_id = $1`, id)
	if err != nil {
		return "", nil, wrap("vendor orgs", err)
	}
	defer rows.Close()
	var lobs []string
	for rows.Next() {
		var lob string
		if err := rows.Scan(&lob); err != nil {
			return "", nil, wrap("vendor orgs", err)
		}
		lobs = append(lobs, lob)
	}
	return vendor.OwnerOrg, lobs, rows.Err()
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", authz.ErrCollaborator, op, err)
}
