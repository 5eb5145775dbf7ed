package access

import "testing"

func TestAllows(t *testing.T) {
	cases := []struct {
		name     string
		granted  Level
		required Level
		allow    bool
	}{
		{name: "view satisfies view", granted: LevelView, required: LevelView, allow: true},
		{name: "view cannot comment", granted: LevelView, required: LevelComment, allow: false},
		{name: "comment satisfies view", granted: LevelComment, required: LevelView, allow: true},
		{name: "comment cannot edit", granted: LevelComment, required: LevelEdit, allow: false},
		{name: "edit satisfies comment", granted: LevelEdit, required: LevelComment, allow: true},
		{name: "edit cannot admin", granted: LevelEdit, required: LevelAdmin, allow: false},
		{name: "admin satisfies everything", granted: LevelAdmin, required: LevelAdmin, allow: true},
		{name: "unknown granted", granted: Level("owner"), required: LevelView, allow: false},
		{name: "unknown required", granted: LevelAdmin, required: Level("root"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allows(tc.granted, tc.required); got != tc.allow {
				t.Fatalf("Allows(%q, %q) = %v, want %v", tc.granted, tc.required, got, tc.allow)
			}
		})
	}
}

func TestLevelForRole(t *testing.T) {
	cases := []struct {
		role Role
		want Level
	}{
		{role: RoleAdmin, want: LevelAdmin},
		{role: RoleEditor, want: LevelEdit},
		{role: RoleCommenter, want: LevelComment},
		{role: RoleViewer, want: LevelView},
		{role: Role("intern"), want: LevelView},
	}

	for _, tc := range cases {
		if got := LevelForRole(tc.role); got != tc.want {
			t.Fatalf("LevelForRole(%q) = %q, want %q", tc.role, got, tc.want)
		}
	}
}

func TestNormalizeRole(t *testing.T) {
	if got := NormalizeRole("editor"); got != RoleEditor {
		t.Fatalf("NormalizeRole(editor) = %q", got)
	}
	if got := NormalizeRole("superuser"); got != RoleViewer {
		t.Fatalf("NormalizeRole(superuser) = %q, want viewer", got)
	}
}
