package ptimage

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Section is a lazily-mappable, reference-counted byte provider
// backed by a file range (filename, fileOffset, size). Its identity
// is immutable once created; map state and refcount are its only
// mutable aspects. Mirrors the map/unmap lifecycle usercorn's
// cpu.MemSim pages carry, but backed by a real mmap the way
// gate.computer/image's mmap.go maps executable pages.
type Section struct {
	filename   string
	fileOffset uint64
	size       uint64

	refcount int
	mapCount int

	file *os.File
	raw  []byte // the full page-aligned mmap window
	data []byte // raw, sliced down to [fileOffset, fileOffset+size)
}

// Make constructs a Section over filename[fileOffset:fileOffset+size]
// with refcount 1 and no mapping held.
func Make(filename string, fileOffset, size uint64) (*Section, error) {
	if filename == "" {
		return nil, newErr(Invalid, "empty filename")
	}
	if size == 0 {
		return nil, newErr(Invalid, "section size must be > 0")
	}
	return &Section{filename: filename, fileOffset: fileOffset, size: size, refcount: 1}, nil
}

func (s *Section) Filename() string { return s.filename }
func (s *Section) Offset() uint64   { return s.fileOffset }
func (s *Section) Size() uint64     { return s.size }

// Get increments the section's refcount, sharing ownership with a new
// holder (typically another image's entry).
func (s *Section) Get() {
	s.refcount++
}

// Put decrements the refcount, destroying the section - and, if it is
// still mapped, unmapping it first - once the count reaches zero.
func (s *Section) Put() error {
	s.refcount--
	if s.refcount > 0 {
		return nil
	}
	if s.mapCount == 0 {
		return nil
	}
	return s.unmapAll()
}

// Map opens the backing file and mmaps the section's byte range,
// making it readable. Map is nest-counted: a section mapped twice
// needs two Unmaps before the underlying mmap is torn down.
func (s *Section) Map() error {
	if s.mapCount > 0 {
		s.mapCount++
		return nil
	}

	f, err := os.Open(s.filename)
	if err != nil {
		return newErr(Invalid, "open %s: %v", s.filename, err)
	}

	pageSize := uint64(unix.Getpagesize())
	aligned := s.fileOffset &^ (pageSize - 1)
	padding := s.fileOffset - aligned
	mmapLen := padding + s.size

	raw, err := unix.Mmap(int(f.Fd()), int64(aligned), int(mmapLen), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return errors.Wrap(newErr(NoMem, "mmap %s: %v", s.filename, err), "section map failed")
	}

	s.file = f
	s.raw = raw
	s.data = raw[padding : padding+s.size]
	s.mapCount = 1
	return nil
}

// Unmap releases one nested Map. Once the nest count reaches zero the
// mmap is torn down and the file descriptor closed; a failure there
// is reported but the section's bookkeeping still reflects "unmapped"
// so a caller retrying or discarding the section doesn't wedge.
func (s *Section) Unmap() error {
	if s.mapCount == 0 {
		return newErr(NotMapped, "%s is not mapped", s.filename)
	}
	s.mapCount--
	if s.mapCount > 0 {
		return nil
	}
	return s.unmapAll()
}

func (s *Section) unmapAll() error {
	var err error
	if s.raw != nil {
		err = unix.Munmap(s.raw)
		s.raw = nil
		s.data = nil
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
	}
	s.mapCount = 0
	if err != nil {
		return errors.Wrap(newErr(NoMem, "unmap %s: %v", s.filename, err), "section unmap failed")
	}
	return nil
}

// ReadMapped copies up to len(buf) bytes starting at fileOff within
// the section, truncating at the section's end. It fails with
// NotMapped if the section isn't currently mapped.
func (s *Section) ReadMapped(buf []byte, fileOff uint64) (int, error) {
	if s.mapCount == 0 {
		return 0, newErr(NotMapped, "%s is not mapped", s.filename)
	}
	if fileOff >= s.size {
		return 0, nil
	}
	return copy(buf, s.data[fileOff:]), nil
}

// Clone yields a logically independent section over a subrange of
// parent's backing file range. It shares no mapped-state object with
// parent - only the file identity - so it can be mapped and unmapped
// on its own, including after parent has been destroyed.
func (s *Section) Clone(newOffset, newSize uint64) (*Section, error) {
	if newOffset < s.fileOffset || newOffset+newSize > s.fileOffset+s.size {
		return nil, newErr(Invalid, "clone range [%#x,%#x) outside parent [%#x,%#x)",
			newOffset, newOffset+newSize, s.fileOffset, s.fileOffset+s.size)
	}
	return Make(s.filename, newOffset, newSize)
}

// cloneSection creates a subrange section from parent. It is a
// package-level variable rather than a direct call to (*Section).Clone
// so tests can stub a failure on a chosen invocation to exercise
// Image.Add's transactional rollback.
var cloneSection = func(parent *Section, newOffset, newSize uint64) (*Section, error) {
	return parent.Clone(newOffset, newSize)
}
