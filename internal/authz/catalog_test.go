package authz

import "testing"

func TestAuthorityLevelMaxOverRoles(t *testing.T) {
	catalog := DefaultCatalog()

	cases := []struct {
		name  string
		roles []string
		want  int
	}{
		{"empty set", nil, 0},
		{"single viewer", []string{RoleViewer}, 0},
		{"editor and reporter", []string{RoleReporter, RoleEditor}, 5},
		{"admin dominates", []string{RoleViewer, RoleAdmin}, 10},
		{"unknown codes ignored", []string{"ghost", RoleContributor}, 3},
		{"all unknown", []string{"ghost", "phantom"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := catalog.AuthorityLevel(tc.roles); got != tc.want {
				t.Fatalf("AuthorityLevel(%v) = %d, want %d", tc.roles, got, tc.want)
			}
		})
	}
}

func TestAuthorityLevelClamped(t *testing.T) {
	catalog := NewCatalog([]Role{{Code: "superuser", Level: 99}}, nil, nil)
	if got := catalog.AuthorityLevel([]string{"superuser"}); got != MaxLevel {
		t.Fatalf("expected clamp to %d, got %d", MaxLevel, got)
	}
}

func TestRequiredLevelDefaultsForUnknownType(t *testing.T) {
	catalog := DefaultCatalog()
	if got := catalog.RequiredLevel("rename_universe"); got != DefaultRequiredLevel {
		t.Fatalf("expected default level %d, got %d", DefaultRequiredLevel, got)
	}
	if got := catalog.RequiredLevel(ChangeGrantScope); got != 9 {
		t.Fatalf("expected grant_scope level 9, got %d", got)
	}
	if got := catalog.RequiredLevel(ChangeAddProjectNote); got != 3 {
		t.Fatalf("expected add_project_note level 3, got %d", got)
	}
}

func TestFormatLevelLabelClamps(t *testing.T) {
	cases := map[int]string{
		-3: "level_1",
		0:  "level_1",
		6:  "level_6",
		10: "level_10",
		42: "level_10",
	}
	for level, want := range cases {
		if got := FormatLevelLabel(level); got != want {
			t.Fatalf("FormatLevelLabel(%d) = %q, want %q", level, got, want)
		}
	}
}

func TestIsAdminPortal(t *testing.T) {
	catalog := DefaultCatalog()
	if catalog.IsAdminPortal([]string{RoleViewer, RoleEditor}) {
		t.Fatal("editor should not reach the admin portal")
	}
	if !catalog.IsAdminPortal([]string{RoleViewer, RoleSteward}) {
		t.Fatal("steward should reach the admin portal")
	}
}
