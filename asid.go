package ptimage

import "unsafe"

// NoCR3 and NoVMCS are the sentinel ("no value") values for the two
// fields of an Asid. Either sentinel acts as a wildcard in Matches,
// on whichever side of the comparison it appears.
const (
	NoCR3  = ^uint64(0)
	NoVMCS = ^uint64(0)
)

// Asid identifies an address space by the pair of values the trace
// decoder observes selecting it: the paging-root register (cr3) and,
// for virtualized traces, the VMCS pointer of the active guest. A
// field holding its sentinel means "don't care" / "not supplied".
type Asid struct {
	CR3  uint64
	VMCS uint64
}

// wildcard is the fully-unconstrained Asid: it matches everything.
var wildcard = Asid{CR3: NoCR3, VMCS: NoVMCS}

// UserAsid is the wire shape a caller supplies to describe an
// address space, sized so a future field can be appended without
// breaking existing callers: Size lets FromUser tell how much of the
// struct the caller actually populated.
type UserAsid struct {
	Size uintptr
	CR3  uint64
	VMCS uint64
}

var (
	sizeofUserAsid   = unsafe.Sizeof(UserAsid{})
	offsetCR3Filled  = unsafe.Offsetof(UserAsid{}.CR3) + unsafe.Sizeof(UserAsid{}.CR3)
	offsetVMCSFilled = unsafe.Offsetof(UserAsid{}.VMCS) + unsafe.Sizeof(UserAsid{}.VMCS)
)

// FromUser builds an Asid from an optional UserAsid. A nil input
// yields the fully-wildcarded Asid. A non-nil input is rejected with
// BadAsid if it claims a size larger than this package knows how to
// interpret (a newer caller built against a wire struct with fields
// this version has never heard of); a smaller size is honored by
// treating any field beyond it as unsupplied and filling in the
// sentinel, the same struct-versioning trick pt_asid_from_user uses
// against sizeof(struct pt_asid).
func FromUser(u *UserAsid) (Asid, error) {
	if u == nil {
		return wildcard, nil
	}
	if u.Size > sizeofUserAsid {
		return Asid{}, newErr(BadAsid, "user asid size %d exceeds known size %d", u.Size, sizeofUserAsid)
	}

	asid := wildcard
	if u.Size >= offsetCR3Filled {
		asid.CR3 = u.CR3
	}
	if u.Size >= offsetVMCSFilled {
		asid.VMCS = u.VMCS
	}
	return asid, nil
}

// Matches reports whether a and b identify the same address space.
// Per field, either side supplying the sentinel counts as a match
// regardless of the other side's value - this is what lets an image
// populated with wildcard-Asid sections answer reads for any concrete
// Asid, and vice versa.
func Matches(a, b Asid) bool {
	return matchesField(a.CR3, b.CR3, NoCR3) && matchesField(a.VMCS, b.VMCS, NoVMCS)
}

func matchesField(a, b, sentinel uint64) bool {
	return a == sentinel || b == sentinel || a == b
}
