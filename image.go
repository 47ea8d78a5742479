package ptimage

import "container/list"

// ReadCallback answers a read for an address no section in the image
// covers. A negative n in the original C API signaled a fatal error;
// here that collapses naturally into the (int, error) return - a
// non-nil error is always treated as fatal for that request, never as
// a signal to fall back to some other provider.
type ReadCallback func(buf []byte, asid Asid, addr uint64, ctx interface{}) (int, error)

// defaultCacheSize is the number of sections an image keeps mapped
// before it starts evicting the least-recently-used ones.
const defaultCacheSize = 10

// entry is one element of an Image's section list: a mapped section
// plus whether this image currently holds a mapping open for it.
type entry struct {
	msec   *mappedSection
	mapped bool
}

// Image is an ordered sequence of mapped sections modeling one or
// more traced address spaces. It uses container/list rather than a
// slice because the read path needs O(1) unlink-and-push-front for
// LRU promotion while still supporting full forward iteration for the
// overlap scan in Add - a plain slice would turn every cache hit into
// an O(n) shift (see design notes in SPEC_FULL.md on why no pack
// dependency fits this shape).
type Image struct {
	name    string
	hasName bool

	entries  *list.List
	resident int
	capacity uint16

	cbFn  ReadCallback
	cbCtx interface{}
}

// NewImage allocates an empty image with the given name (pass "" for
// an unnamed image) and the default cache capacity of 10.
func NewImage(name string) *Image {
	return &Image{
		name:     name,
		hasName:  name != "",
		entries:  list.New(),
		capacity: defaultCacheSize,
	}
}

// Name reports the image's name, if it has one.
func (img *Image) Name() (string, bool) {
	return img.name, img.hasName
}

// SetCacheSize changes the soft cap on how many sections this image
// keeps mapped at once. It takes effect the next time residency
// crosses the new limit; it does not eagerly prune.
func (img *Image) SetCacheSize(c uint16) {
	img.capacity = c
}

// SetCallback installs the fallback read function used when no
// section answers a read, replacing any previous one. A nil fn clears
// the callback; ctx may be nil and is passed to fn unchanged.
func (img *Image) SetCallback(fn ReadCallback, ctx interface{}) {
	img.cbFn = fn
	img.cbCtx = ctx
}

// Add inserts section at (asid, vaddr), cutting, splitting, or fully
// replacing whatever entries under a matching Asid currently overlap
// [vaddr, vaddr+section.Size()). It is transactional: on any failure
// the image holds the same entries as before the call and gains none,
// though entries Add had detached are put back at the tail of the
// list, unmapped.
func (img *Image) Add(section *Section, asid Asid, vaddr uint64) error {
	if section == nil {
		return newErr(Internal, "nil section")
	}

	begin := vaddr
	end := vaddr + section.Size()

	section.Get()
	head := &entry{msec: newMappedSection(section, asid, vaddr)}

	pending := []*entry{head}
	var removed []*entry
	mutated := false

	el := img.entries.Front()
	for el != nil {
		next := el.Next()
		e := el.Value.(*entry)

		if !e.msec.matchesASID(asid) {
			el = next
			continue
		}

		eb, ee := e.msec.begin(), e.msec.end()
		if end <= eb || ee <= begin {
			el = next
			continue
		}

		if !mutated && eb == begin && ee == end && e.msec.section.Filename() == section.Filename() {
			section.Put()
			return nil
		}

		// Detach E now - it is either replaced outright or shrunk into
		// one or two remainder entries that get re-added as pending.
		mutated = true
		img.entries.Remove(el)
		removed = append(removed, e)
		if e.mapped {
			e.msec.section.Unmap()
			e.mapped = false
			img.resident--
		}

		if eb < begin {
			left, err := cloneSection(e.msec.section, e.msec.section.Offset(), begin-eb)
			if err != nil {
				return img.rollbackAdd(pending, removed, err)
			}
			pending = append(pending, &entry{msec: newMappedSection(left, e.msec.asid, eb)})
		}
		if end < ee {
			right, err := cloneSection(e.msec.section, e.msec.section.Offset()+(end-eb), ee-end)
			if err != nil {
				return img.rollbackAdd(pending, removed, err)
			}
			pending = append(pending, &entry{msec: newMappedSection(right, e.msec.asid, end)})
		}

		el = next
	}

	for _, e := range removed {
		e.msec.section.Put()
	}
	for _, pe := range pending {
		img.entries.PushBack(pe)
	}
	return nil
}

// rollbackAdd undoes a partially-built Add: every pending entry's
// section reference is dropped (destroying freshly-cloned remainder
// sections that were never spliced into the image) and every entry
// already detached from the list is put back, at the tail.
func (img *Image) rollbackAdd(pending []*entry, removed []*entry, cause error) error {
	for _, pe := range pending {
		pe.msec.section.Put()
	}
	for _, e := range removed {
		img.entries.PushBack(e)
	}
	return cause
}

// AddFile is a convenience wrapper: it builds a Section over
// path[fileOffset:fileOffset+size], Adds it, then drops its own
// reference - the image keeps whatever reference Add took.
func (img *Image) AddFile(path string, fileOffset, size uint64, asid Asid, vaddr uint64) error {
	section, err := Make(path, fileOffset, size)
	if err != nil {
		return err
	}
	if err := img.Add(section, asid, vaddr); err != nil {
		section.Put()
		return err
	}
	section.Put()
	return nil
}

// Remove deletes the first entry bound to exactly (section, vaddr)
// under an Asid matching asid.
func (img *Image) Remove(section *Section, asid Asid, vaddr uint64) error {
	for el := img.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.msec.section != section || e.msec.vaddr != vaddr {
			continue
		}
		if !e.msec.matchesASID(asid) {
			continue
		}
		img.removeEntry(el, e)
		return nil
	}
	return newErr(BadImage, "no entry for section at %#x", vaddr)
}

// RemoveByFilename removes every entry under a matching Asid whose
// section has the given filename, and reports how many it removed.
func (img *Image) RemoveByFilename(filename string, asid Asid) int {
	removed := 0
	el := img.entries.Front()
	for el != nil {
		next := el.Next()
		e := el.Value.(*entry)
		if e.msec.matchesASID(asid) && e.msec.section.Filename() == filename {
			img.removeEntry(el, e)
			removed++
		}
		el = next
	}
	return removed
}

// RemoveByASID removes every entry under a matching Asid, and reports
// how many it removed.
func (img *Image) RemoveByASID(asid Asid) int {
	removed := 0
	el := img.entries.Front()
	for el != nil {
		next := el.Next()
		e := el.Value.(*entry)
		if e.msec.matchesASID(asid) {
			img.removeEntry(el, e)
			removed++
		}
		el = next
	}
	return removed
}

func (img *Image) removeEntry(el *list.Element, e *entry) {
	img.entries.Remove(el)
	if e.mapped {
		e.msec.section.Unmap()
		img.resident--
	}
	e.msec.section.Put()
}

// Close tears the image down: every remaining entry is unmapped (if
// mapped) and its section reference is put, then the entry list is
// cleared. Like pruneCache, it is opportunistic - an unmap or put
// failure on one entry is remembered but does not stop the rest of
// the teardown from running. Close is idempotent: calling it again on
// an already-closed image is a no-op that returns nil.
func (img *Image) Close() error {
	var firstErr error
	for el := img.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.mapped {
			if err := e.msec.section.Unmap(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := e.msec.section.Put(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	img.entries.Init()
	img.resident = 0
	return firstErr
}

// Copy adds every section in src to img, preserving src's iteration
// order. It never fails outright; it counts how many individual Adds
// returned an error (for example a failed clone of an overlap
// remainder) and returns that count.
func Copy(dst, src *Image) int {
	failed := 0
	for el := src.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if err := dst.Add(e.msec.section, e.msec.asid, e.msec.vaddr); err != nil {
			failed++
		}
	}
	return failed
}

// Read resolves addr in asid to a byte value: entries whose section
// already holds a mapping are tried first, in head-to-tail order,
// promoting the first hit to the head; a miss there falls through to
// demand-mapping the cold suffix, and finally to the read callback.
func (img *Image) Read(buf []byte, asid Asid, addr uint64) (int, error) {
	var coldStart *list.Element
	for el := img.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if !e.mapped {
			coldStart = el
			break
		}
		n, err := e.msec.readMapped(buf, asid, addr)
		if err != nil {
			continue
		}
		if el != img.entries.Front() {
			img.entries.MoveToFront(el)
		}
		return n, nil
	}
	return img.readCold(coldStart, buf, asid, addr)
}

func (img *Image) readCold(start *list.Element, buf []byte, asid Asid, addr uint64) (int, error) {
	for el := start; el != nil; el = el.Next() {
		e := el.Value.(*entry)
		wasMapped := e.mapped
		if !wasMapped {
			if err := e.msec.section.Map(); err != nil {
				return 0, err
			}
		}

		n, err := e.msec.readMapped(buf, asid, addr)
		if err != nil {
			if !wasMapped {
				if uerr := e.msec.section.Unmap(); uerr != nil {
					return 0, uerr
				}
			}
			continue
		}

		img.entries.MoveToFront(el)
		if !wasMapped {
			if img.capacity == 0 {
				if uerr := e.msec.section.Unmap(); uerr != nil {
					return 0, uerr
				}
			} else {
				e.mapped = true
				img.resident++
				if img.resident > int(img.capacity) {
					if perr := img.pruneCache(); perr != nil {
						return 0, perr
					}
				}
			}
		}
		return n, nil
	}
	return img.readCallback(buf, asid, addr)
}

func (img *Image) readCallback(buf []byte, asid Asid, addr uint64) (int, error) {
	if img.cbFn == nil {
		return 0, newErr(NoMap, "no section and no callback cover %#x", addr)
	}
	return img.cbFn(buf, asid, addr, img.cbCtx)
}

// pruneCache walks the full list, unmapping every mapped entry beyond
// the capacity-th one it finds. It is deliberately opportunistic: an
// unmap failure is remembered and returned, but pruning continues
// over the rest of the list so a single stuck section can't wedge
// residency accounting for every other entry.
func (img *Image) pruneCache() error {
	var firstErr error
	mapped := 0
	for el := img.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if !e.mapped {
			continue
		}
		mapped++
		if mapped <= int(img.capacity) {
			continue
		}
		if err := e.msec.section.Unmap(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.mapped = false
		mapped--
	}
	img.resident = mapped
	return firstErr
}

// Len reports the number of entries currently in the image, for tests
// that assert on list shape after Add/Remove sequences.
func (img *Image) Len() int {
	return img.entries.Len()
}

// Resident reports the current residency count R.
func (img *Image) Resident() int {
	return img.resident
}
