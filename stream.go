package metaphysfs

import (
	"io"
	"os"
	"sync"
)

// Stream is the uniform read/write/seek/tell/length/duplicate/flush/
// destroy contract every byte source in a mount implements. It backs
// every open handle, whether the handle talks to a native file, an
// in-memory buffer, or a byte-range into an archive's parent stream.
type Stream interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Seek(off int64) error
	Tell() (int64, error)
	Length() (int64, error)
	Duplicate() (Stream, error)
	Flush() error
	Destroy() error
}

// streamMode mirrors the three open modes a native stream can hold.
type streamMode int

const (
	modeRead streamMode = iota
	modeWrite
	modeAppend
)

// nativeStream wraps a real OS file. Duplicate reopens the path
// rather than sharing the descriptor, matching the contract that
// duplicates must survive independent destruction.
type nativeStream struct {
	f    *os.File
	path string
	mode streamMode
}

func openNativeStream(path string, mode streamMode) (*nativeStream, error) {
	var f *os.File
	var err error
	switch mode {
	case modeRead:
		f, err = os.Open(path)
	case modeWrite:
		f, err = os.Create(path)
	case modeAppend:
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return nil, newError(IO, "open", path)
	}
	return &nativeStream{f: f, path: path, mode: mode}, nil
}

func (s *nativeStream) Read(buf []byte) (int, error) {
	if s.mode != modeRead {
		return 0, newError(OpenForWriting, "read", s.path)
	}
	n, err := s.f.Read(buf)
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

func (s *nativeStream) Write(buf []byte) (int, error) {
	if s.mode == modeRead {
		return 0, newError(OpenForReading, "write", s.path)
	}
	return s.f.Write(buf)
}

func (s *nativeStream) Seek(off int64) error {
	_, err := s.f.Seek(off, io.SeekStart)
	return err
}

func (s *nativeStream) Tell() (int64, error) {
	return s.f.Seek(0, io.SeekCurrent)
}

func (s *nativeStream) Length() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return -1, err
	}
	return fi.Size(), nil
}

func (s *nativeStream) Duplicate() (Stream, error) {
	return openNativeStream(s.path, s.mode)
}

func (s *nativeStream) Flush() error {
	if s.mode == modeRead {
		return nil
	}
	return s.f.Sync()
}

func (s *nativeStream) Destroy() error {
	return s.f.Close()
}

// memoryStream is a reference-counted in-memory buffer. Exactly one
// parent holds the owning refcount; duplicates chain to the parent
// and carry their own cursor, collapsing "parent + N live views" into
// one shared buffer.
type memoryStream struct {
	parent *memoryShared
	pos    int64
}

type memoryShared struct {
	mu   sync.Mutex
	buf  []byte
	refs int
}

// NewMemoryStream wraps buf as a memory stream; writes go into the
// shared buffer and grow it as needed. It is the
// backing used for mount_memory and for buffering compressed archive
// entries that cannot be seeked directly (see formats/pbo).
func NewMemoryStream(buf []byte) Stream {
	return &memoryStream{parent: &memoryShared{buf: buf, refs: 1}}
}

func (s *memoryStream) Read(buf []byte) (int, error) {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	if s.pos >= int64(len(s.parent.buf)) {
		return 0, nil
	}
	n := copy(buf, s.parent.buf[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *memoryStream) Write(buf []byte) (int, error) {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	end := s.pos + int64(len(buf))
	if end > int64(len(s.parent.buf)) {
		grown := make([]byte, end)
		copy(grown, s.parent.buf)
		s.parent.buf = grown
	}
	n := copy(s.parent.buf[s.pos:end], buf)
	s.pos += int64(n)
	return n, nil
}

func (s *memoryStream) Seek(off int64) error {
	if off < 0 {
		return newError(InvalidArgument, "seek", "")
	}
	s.pos = off
	return nil
}

func (s *memoryStream) Tell() (int64, error) { return s.pos, nil }

func (s *memoryStream) Length() (int64, error) {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	return int64(len(s.parent.buf)), nil
}

func (s *memoryStream) Duplicate() (Stream, error) {
	s.parent.mu.Lock()
	s.parent.refs++
	s.parent.mu.Unlock()
	return &memoryStream{parent: s.parent}, nil
}

func (s *memoryStream) Flush() error { return nil }

func (s *memoryStream) Destroy() error {
	s.parent.mu.Lock()
	s.parent.refs--
	s.parent.mu.Unlock()
	return nil
}

// byteRangeStream is a clamped view into [start, start+size) of a
// parent stream. It does not reseek the parent on every read; seek
// issues exactly one parent.Seek per call.
type byteRangeStream struct {
	parent Stream
	start  int64
	size   int64
	curPos int64
}

// NewByteRangeStream builds a byte-range view into parent, the stream
// backing used by the unpacked-archive framework for every opened
// entry.
func NewByteRangeStream(parent Stream, start, size int64) Stream {
	return &byteRangeStream{parent: parent, start: start, size: size}
}

func (s *byteRangeStream) Read(buf []byte) (int, error) {
	remaining := s.size - s.curPos
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	n, err := s.parent.Read(buf)
	s.curPos += int64(n)
	return n, err
}

func (s *byteRangeStream) Write([]byte) (int, error) {
	return 0, newError(ReadOnly, "write", "")
}

// Seek rejects offset >= size unconditionally, including seeking a
// zero-size entry to 0: the archiver framework this is grounded on
// treats seeking exactly to EOF as past-EOF, not as a valid
// zero-length-remaining cursor position, with no exception for an
// empty entry (see DESIGN.md Open Question (a)).
func (s *byteRangeStream) Seek(off int64) error {
	if off < 0 || off >= s.size {
		return newError(PastEOF, "seek", "")
	}
	if err := s.parent.Seek(s.start + off); err != nil {
		return err
	}
	s.curPos = off
	return nil
}

func (s *byteRangeStream) Tell() (int64, error) { return s.curPos, nil }

func (s *byteRangeStream) Length() (int64, error) { return s.size, nil }

func (s *byteRangeStream) Duplicate() (Stream, error) {
	dup, err := s.parent.Duplicate()
	if err != nil {
		return nil, err
	}
	if err := dup.Seek(s.start); err != nil {
		return nil, err
	}
	return &byteRangeStream{parent: dup, start: s.start, size: s.size}, nil
}

func (s *byteRangeStream) Flush() error { return nil }

func (s *byteRangeStream) Destroy() error { return s.parent.Destroy() }
