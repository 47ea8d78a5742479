package ptimage

// mappedSection binds a Section to the (asid, vaddr) location at
// which its byte 0 appears. It takes no reference on section - the
// enclosing image entry owns that.
type mappedSection struct {
	section *Section
	asid    Asid
	vaddr   uint64
}

func newMappedSection(section *Section, asid Asid, vaddr uint64) *mappedSection {
	return &mappedSection{section: section, asid: asid, vaddr: vaddr}
}

func (m *mappedSection) begin() uint64 { return m.vaddr }
func (m *mappedSection) end() uint64   { return m.vaddr + m.section.Size() }

func (m *mappedSection) matchesASID(asid Asid) bool {
	return Matches(m.asid, asid)
}

// readMapped requires both an Asid match and addr to fall within
// [begin, end) before delegating to the section; it returns up to
// min(len(buf), end-addr) bytes.
func (m *mappedSection) readMapped(buf []byte, asid Asid, addr uint64) (int, error) {
	if !m.matchesASID(asid) {
		return 0, newErr(NoMap, "asid mismatch at %#x", addr)
	}
	begin, end := m.begin(), m.end()
	if addr < begin || addr >= end {
		return 0, newErr(NoMap, "%#x outside [%#x,%#x)", addr, begin, end)
	}
	if avail := end - addr; uint64(len(buf)) > avail {
		buf = buf[:avail]
	}
	return m.section.ReadMapped(buf, addr-begin)
}
