package metaphysfs

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Error wraps an ErrorCode with contextual information. It satisfies
// the error interface and unwraps to nil (it is always a leaf), since
// ErrorCode is a closed set rather than a wrapped chain.
type Error struct {
	Code ErrorCode
	Op   string
	Path string
}

func (e *Error) Error() string {
	s := e.Code.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Path != "" {
		s += ": " + e.Path
	}
	return s
}

// NewError builds an *Error for the given code and records it as the
// calling goroutine's last error. Format adapters in formats/* use
// this to report failures in terms of the closed ErrorCode enum
// instead of ad hoc errors.
func NewError(code ErrorCode, op, path string) error {
	return newError(code, op, path)
}

// newError builds an *Error and records it as the calling goroutine's
// last error, mirroring the per-thread error slot of the original API.
func newError(code ErrorCode, op, path string) *Error {
	e := &Error{Code: code, Op: op, Path: path}
	setLastError(code)
	return e
}

var lastErrors sync.Map // goroutineID -> ErrorCode

// goroutineID parses the numeric id out of a short runtime.Stack
// trace. There is no goroutine-local storage in the standard library
// or anywhere in the example pack; this is the same trick the runtime
// itself exposes informally via its stack dumps, isolated here so
// only this file depends on it.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	// "goroutine 123 [running]: ..."
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

func setLastError(code ErrorCode) {
	lastErrors.Store(goroutineID(), code)
}

// GetLastErrorCode returns the most recent ErrorCode set by the
// calling goroutine, or OK if none was ever set. Preserved for
// callers porting code that used the C API's per-thread error state;
// new call sites should just inspect the returned error instead.
func GetLastErrorCode() ErrorCode {
	v, ok := lastErrors.Load(goroutineID())
	if !ok {
		return OK
	}
	return v.(ErrorCode)
}

// SetErrorCode overrides the calling goroutine's last error slot.
func SetErrorCode(code ErrorCode) {
	setLastError(code)
}

// GetErrorString renders code the way get_error_string does.
func GetErrorString(code ErrorCode) string {
	return code.String()
}
