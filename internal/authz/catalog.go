package authz

import "fmt"

// Authority level bounds. Levels outside this range are clamped.
const (
	MinLevel = 0
	MaxLevel = 10

	// DefaultRequiredLevel applies to change types absent from the catalog.
	DefaultRequiredLevel = 6
)

// Role describes an immutable role definition loaded at process start.
type Role struct {
	Code           string
	Name           string
	Level          int
	CanEdit        bool
	CanReport      bool
	CanDirectApply bool
}

// ChangeTypeRule maps a change-type key to the authority level required
// to review or directly apply it.
type ChangeTypeRule struct {
	ChangeType    string
	RequiredLevel int
}

// Catalog is the immutable role and change-type registry. It is built
// once during startup and injected wherever authority math is needed.
type Catalog struct {
	roles       map[string]Role
	changeTypes map[string]int
	adminPortal map[string]struct{}
	highest     Role
}

// NewCatalog builds a Catalog from role definitions, change-type rules
// and the set of role codes granting access to the admin portal.
func NewCatalog(roles []Role, rules []ChangeTypeRule, adminPortal []string) *Catalog {
	c := &Catalog{
		roles:       make(map[string]Role, len(roles)),
		changeTypes: make(map[string]int, len(rules)),
		adminPortal: make(map[string]struct{}, len(adminPortal)),
	}
	for _, role := range roles {
		role.Level = clampLevel(role.Level)
		c.roles[role.Code] = role
		if role.Level >= c.highest.Level {
			c.highest = role
		}
	}
	for _, rule := range rules {
		c.changeTypes[rule.ChangeType] = clampRequired(rule.RequiredLevel)
	}
	for _, code := range adminPortal {
		c.adminPortal[code] = struct{}{}
	}
	return c
}

// Lookup returns the role definition for a code.
func (c *Catalog) Lookup(code string) (Role, bool) {
	role, ok := c.roles[code]
	return role, ok
}

// HasChangeType reports whether the change type is explicitly listed.
func (c *Catalog) HasChangeType(changeType string) bool {
	_, ok := c.changeTypes[changeType]
	return ok
}

// RequiredLevel returns the authority level required for a change type,
// falling back to DefaultRequiredLevel for unlisted keys.
func (c *Catalog) RequiredLevel(changeType string) int {
	if level, ok := c.changeTypes[changeType]; ok {
		return level
	}
	return DefaultRequiredLevel
}

// AuthorityLevel returns the maximum authority level across the given
// role codes, clamped to [MinLevel, MaxLevel]. Unknown codes contribute
// nothing; an empty set yields MinLevel.
func (c *Catalog) AuthorityLevel(roleCodes []string) int {
	level := MinLevel
	for _, code := range roleCodes {
		role, ok := c.roles[code]
		if !ok {
			continue
		}
		if role.Level > level {
			level = role.Level
		}
	}
	return clampLevel(level)
}

// HighestRole returns the role with the greatest authority level. Used
// only by the development grant-all mode.
func (c *Catalog) HighestRole() Role {
	return c.highest
}

// IsAdminPortal reports whether any of the role codes belongs to the
// admin-portal set.
func (c *Catalog) IsAdminPortal(roleCodes []string) bool {
	for _, code := range roleCodes {
		if _, ok := c.adminPortal[code]; ok {
			return true
		}
	}
	return false
}

// FormatLevelLabel renders the canonical label for an authority level
// used in user-facing denial messages, e.g. "level_6". The value is
// clamped to [1, MaxLevel] so a label never names level zero.
func FormatLevelLabel(level int) string {
	if level < 1 {
		level = 1
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return fmt.Sprintf("level_%d", level)
}

func clampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// Required levels are clamped to [1, MaxLevel]; a change type can never
// be reviewable at level zero.
func clampRequired(level int) int {
	if level < 1 {
		return 1
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
