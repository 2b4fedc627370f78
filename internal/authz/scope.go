package authz

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ScopeLevel ranks line-of-business grants: view < edit < admin.
type ScopeLevel int

const (
	ScopeView  ScopeLevel = 1
	ScopeEdit  ScopeLevel = 2
	ScopeAdmin ScopeLevel = 3
)

// ParseScopeLevel converts the stored textual level to its rank.
func ParseScopeLevel(value string) (ScopeLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "view":
		return ScopeView, nil
	case "edit":
		return ScopeEdit, nil
	case "admin":
		return ScopeAdmin, nil
	default:
		return 0, fmt.Errorf("%w: unknown scope level %q", ErrValidation, value)
	}
}

// String renders the canonical textual form.
func (l ScopeLevel) String() string {
	switch l {
	case ScopeView:
		return "view"
	case ScopeEdit:
		return "edit"
	case ScopeAdmin:
		return "admin"
	default:
		return fmt.Sprintf("scope(%d)", int(l))
	}
}

// ScopeGrant is a per-line-of-business permission, independent of role
// authority. Org "*" or "all" matches any LOB.
type ScopeGrant struct {
	Principal string     `json:"principal"`
	Org       string     `json:"org"`
	Level     ScopeLevel `json:"level"`
	GrantedBy string     `json:"granted_by"`
	GrantedAt time.Time  `json:"granted_at"`
}

// Matches reports whether the grant covers the target LOB at the
// requested minimum level. Org comparison is case-insensitive.
func (g ScopeGrant) Matches(lob string, min ScopeLevel) bool {
	if g.Level < min {
		return false
	}
	org := strings.ToLower(strings.TrimSpace(g.Org))
	if org == "*" || org == "all" {
		return true
	}
	return org == strings.ToLower(strings.TrimSpace(lob))
}

// HasLOBScope reports whether the grants authorize the target LOB at
// the minimum level. A blank LOB means no restriction applies and is
// always authorized; global-scope change types rely on this.
func HasLOBScope(grants []ScopeGrant, lob string, min ScopeLevel) bool {
	if strings.TrimSpace(lob) == "" {
		return true
	}
	for _, grant := range grants {
		if grant.Matches(lob, min) {
			return true
		}
	}
	return false
}

// HasVendorLevelScope requires HasLOBScope to hold for every distinct
// non-blank value across the vendor's owner org and its offering LOBs.
// A vendor-level mutation touching several lines of business must be
// separately authorized for each one. An empty combined set authorizes.
func HasVendorLevelScope(grants []ScopeGrant, ownerOrg string, offeringLOBs []string, min ScopeLevel) bool {
	seen := make(map[string]struct{}, len(offeringLOBs)+1)
	check := func(lob string) bool {
		key := strings.ToLower(strings.TrimSpace(lob))
		if key == "" {
			return true
		}
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		return HasLOBScope(grants, lob, min)
	}
	if !check(ownerOrg) {
		return false
	}
	for _, lob := range offeringLOBs {
		if !check(lob) {
			return false
		}
	}
	return true
}

var orgCaser = cases.Title(language.English)

// DisplayOrg renders an org code for user-facing messages, e.g.
// "fin-ops" becomes "Fin-Ops". Wildcards render as "All".
func DisplayOrg(org string) string {
	org = strings.TrimSpace(org)
	if org == "*" || strings.EqualFold(org, "all") {
		return "All"
	}
	return orgCaser.String(strings.ToLower(org))
}
