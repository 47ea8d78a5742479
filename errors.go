package ptimage

import "fmt"

// Code identifies the stable error taxonomy the image and its
// collaborators report through. It mirrors the Enum field on
// usercorn's cpu.MemError: a small closed set of reasons a caller can
// switch on without string matching.
type Code int

const (
	// Internal marks a precondition violation caught defensively -
	// a bug in the caller or in this package, not in user input.
	Internal Code = iota + 1

	// Invalid marks malformed user input: an empty or unopenable path,
	// a zero section size, a clone range outside its parent.
	Invalid

	// NoMem marks an allocation or resource-acquisition failure.
	NoMem

	// NoMap marks a read that no section and no callback answered.
	NoMap

	// BadImage marks a Remove that could not find the requested entry.
	BadImage

	// BadAsid marks a UserAsid that failed to convert.
	BadAsid

	// EOS marks an end-of-stream/exhausted-iteration condition.
	EOS

	// NotMapped marks a section-level lifecycle error: an operation
	// on a section that isn't currently mapped.
	NotMapped
)

func (c Code) String() string {
	switch c {
	case Internal:
		return "internal"
	case Invalid:
		return "invalid"
	case NoMem:
		return "nomem"
	case NoMap:
		return "nomap"
	case BadImage:
		return "bad image"
	case BadAsid:
		return "bad asid"
	case EOS:
		return "eos"
	case NotMapped:
		return "not mapped"
	default:
		return "unknown error"
	}
}

// Error is the error type behind every failure this package reports
// itself; some reach the caller wrapped with context, which AsCode
// sees through. Errors from a ReadCallback are passed on as they are.
// Reason carries the stable Code; Msg adds request-specific detail the
// way cpu.MemError formats its Enum against Addr/Size in
// usercorn/go/models/cpu/memsim.go.
type Error struct {
	Reason Code
	Msg    string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Reason.String()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

// AsCode reports the stable reason behind err, if err (or something it
// wraps) is an *Error. Ok is false for any other error, including nil.
func AsCode(err error) (code Code, ok bool) {
	type causer interface {
		Cause() error
	}
	for err != nil {
		if e, isErr := err.(*Error); isErr {
			return e.Reason, true
		}
		c, isCauser := err.(causer)
		if !isCauser {
			break
		}
		err = c.Cause()
	}
	return 0, false
}

func newErr(reason Code, format string, args ...interface{}) *Error {
	return &Error{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}
