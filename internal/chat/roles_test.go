package chat

import "testing"

func TestRoleOrdering(t *testing.T) {
	order := []Role{RoleMember, RoleModerator, RoleAdmin, RoleOwner}
	for i := range order {
		for j := range order {
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = 1
			}
			if got := order[i].Compare(order[j]); got != want {
				t.Errorf("%s.Compare(%s) = %d, want %d", order[i], order[j], got, want)
			}
			if got := order[i].AtLeast(order[j]); got != (i >= j) {
				t.Errorf("%s.AtLeast(%s) = %v", order[i], order[j], got)
			}
		}
	}
}

func TestUnknownRoleHasNoRights(t *testing.T) {
	if Role("GUEST").AtLeast(RoleMember) {
		t.Fatal("unknown role must not satisfy MEMBER")
	}
	if Role("").AtLeast(Role("")) {
		t.Fatal("empty role must not satisfy anything")
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" moderator ")
	if err != nil || r != RoleModerator {
		t.Fatalf("ParseRole = %q, %v", r, err)
	}
	if _, err := ParseRole("king"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
