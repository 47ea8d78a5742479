package ptimage

import "testing"

func TestMatchesWildcard(t *testing.T) {
	cases := []struct {
		name string
		a, b Asid
		want bool
	}{
		{"both wildcard", wildcard, wildcard, true},
		{"a wildcard", wildcard, Asid{CR3: 1, VMCS: 2}, true},
		{"b wildcard", Asid{CR3: 1, VMCS: 2}, wildcard, true},
		{"equal concrete", Asid{CR3: 1, VMCS: 2}, Asid{CR3: 1, VMCS: 2}, true},
		{"differing cr3", Asid{CR3: 1, VMCS: 2}, Asid{CR3: 3, VMCS: 2}, false},
		{"differing vmcs", Asid{CR3: 1, VMCS: 2}, Asid{CR3: 1, VMCS: 3}, false},
		{"vmcs wildcard one side", Asid{CR3: 1, VMCS: NoVMCS}, Asid{CR3: 1, VMCS: 9}, true},
	}
	for _, c := range cases {
		if got := Matches(c.a, c.b); got != c.want {
			t.Errorf("%s: Matches(%+v, %+v) = %v, want %v", c.name, c.a, c.b, got, c.want)
		}
	}
}

func TestFromUserNil(t *testing.T) {
	asid, err := FromUser(nil)
	if err != nil {
		t.Fatalf("FromUser(nil): %v", err)
	}
	if asid != wildcard {
		t.Errorf("FromUser(nil) = %+v, want wildcard", asid)
	}
}

func TestFromUserOversized(t *testing.T) {
	u := &UserAsid{Size: sizeofUserAsid + 8, CR3: 1, VMCS: 2}
	if _, err := FromUser(u); err == nil {
		t.Error("FromUser accepted an oversized UserAsid")
	} else if code, ok := AsCode(err); !ok || code != BadAsid {
		t.Errorf("FromUser error code = (%v, %v), want (BadAsid, true)", code, ok)
	}
}

func TestFromUserPartial(t *testing.T) {
	// A Size that only covers CR3 leaves VMCS wildcarded, the same
	// struct-versioning behavior pt_asid_from_user implements.
	u := &UserAsid{Size: offsetCR3Filled, CR3: 42, VMCS: 99}
	asid, err := FromUser(u)
	if err != nil {
		t.Fatalf("FromUser: %v", err)
	}
	if asid.CR3 != 42 {
		t.Errorf("asid.CR3 = %d, want 42", asid.CR3)
	}
	if asid.VMCS != NoVMCS {
		t.Errorf("asid.VMCS = %#x, want wildcard", asid.VMCS)
	}
}

func TestFromUserFull(t *testing.T) {
	u := &UserAsid{Size: sizeofUserAsid, CR3: 42, VMCS: 99}
	asid, err := FromUser(u)
	if err != nil {
		t.Fatalf("FromUser: %v", err)
	}
	if asid != (Asid{CR3: 42, VMCS: 99}) {
		t.Errorf("asid = %+v, want {42 99}", asid)
	}
}
