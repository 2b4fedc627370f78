// Package vendors holds the catalog data: vendors, their offerings,
// contracts, and project notes. Mutations arrive either through the
// change-request workflow or, for sufficiently privileged callers,
// directly.
package vendors

import (
	"time"

	"github.com/google/uuid"
)

// Vendor is a catalog entry owned by one line of business.
type Vendor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	OwnerOrg  string    `json:"owner_org"`
	Website   string    `json:"website,omitempty"`
	Contact   string    `json:"contact,omitempty"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Offering is a product or service a vendor supplies to one LOB.
type Offering struct {
	ID       uuid.UUID `json:"id"`
	VendorID uuid.UUID `json:"vendor_id"`
	Name     string    `json:"name"`
	LOB      string    `json:"lob"`
}

// Contract is an agreement attached to a vendor.
type Contract struct {
	ID          uuid.UUID `json:"id"`
	VendorID    uuid.UUID `json:"vendor_id"`
	Title       string    `json:"title"`
	AmountCents int64     `json:"amount_cents"`
	StartsOn    time.Time `json:"starts_on"`
	EndsOn      time.Time `json:"ends_on"`
}

// ProjectNote is a free-form note on a vendor engagement.
type ProjectNote struct {
	ID        uuid.UUID `json:"id"`
	VendorID  uuid.UUID `json:"vendor_id"`
	Project   string    `json:"project"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Detail is a vendor with its related records.
type Detail struct {
	Vendor    Vendor        `json:"vendor"`
	Offerings []Offering    `json:"offerings"`
	Contracts []Contract    `json:"contracts"`
	Notes     []ProjectNote `json:"notes"`
}

// ProfileUpdate carries the mutable vendor profile fields. Empty
// strings leave the stored value untouched.
type ProfileUpdate struct {
	Name    string `json:"name,omitempty"`
	Website string `json:"website,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// ListFilter selects vendors.
type ListFilter struct {
	Search          string
	OwnerOrg        string
	IncludeArchived bool
	Page            int
	Limit           int
}
