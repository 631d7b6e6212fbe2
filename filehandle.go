package metaphysfs

import (
	"io"
	"sync"
)

// File is the buffered, bidirectional user-facing handle wrapping a
// backend Stream. Logical position on a read handle is the
// underlying tell minus the unread buffer tail; on a write handle it
// is the underlying tell plus the unflushed buffer head.
type File struct {
	mu         sync.Mutex
	fs         *FileSystem
	mount      *mountRecord
	stream     Stream
	forReading bool
	closed     bool

	buf     []byte
	bufSize int
	fill    int // bytes valid in buf (read) or pending (write)
	pos     int // read cursor within buf[0:fill]
}

func newFile(fs *FileSystem, m *mountRecord, s Stream, forReading bool) *File {
	return &File{fs: fs, mount: m, stream: s, forReading: forReading}
}

// SetBuffer installs or removes (size 0) a user-space buffer.
func (f *File) SetBuffer(size int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.flushLocked(); err != nil {
		return err
	}
	f.bufSize = size
	f.buf = nil
	f.fill = 0
	f.pos = 0
	if size > 0 {
		f.buf = make([]byte, size)
	}
	return nil
}

// Read implements io.Reader, returning io.EOF once the stream is
// exhausted. When buffered, it first drains the buffer and refills
// with a single underlying read on exhaustion.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, newError(IO, "read", "")
	}
	if !f.forReading {
		return 0, newError(OpenForWriting, "read", "")
	}
	if f.bufSize == 0 {
		n, err := f.stream.Read(p)
		if n == 0 && err == nil && len(p) > 0 {
			return 0, io.EOF
		}
		return n, err
	}

	total := 0
	for total < len(p) {
		if f.pos >= f.fill {
			n, err := f.stream.Read(f.buf)
			f.fill = n
			f.pos = 0
			if n == 0 {
				break
			}
			if err != nil {
				return total, err
			}
		}
		n := copy(p[total:], f.buf[f.pos:f.fill])
		f.pos += n
		total += n
	}
	if total == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return total, nil
}

// Write implements io.Writer, coalescing into the buffer and flushing
// before any payload that would overflow it.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, newError(IO, "write", "")
	}
	if f.forReading {
		return 0, newError(OpenForReading, "write", "")
	}
	if f.bufSize == 0 {
		return f.stream.Write(p)
	}
	if f.fill+len(p) > f.bufSize {
		if err := f.flushLocked(); err != nil {
			return 0, err
		}
		if len(p) > f.bufSize {
			return f.stream.Write(p)
		}
	}
	n := copy(f.buf[f.fill:f.bufSize], p)
	f.fill += n
	return n, nil
}

// Seek sets the logical position. On a buffered read handle it first
// tries an in-buffer adjustment; otherwise it drops the buffer and
// seeks the underlying stream.
func (f *File) Seek(off int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forReading && f.bufSize > 0 {
		cur, err := f.Tell()
		if err == nil {
			delta := off - cur
			newPos := int64(f.pos) + delta
			if newPos >= 0 && newPos <= int64(f.fill) {
				f.pos = int(newPos)
				return nil
			}
		}
		f.fill = 0
		f.pos = 0
	}
	if !f.forReading {
		if err := f.flushLocked(); err != nil {
			return err
		}
	}
	return f.stream.Seek(off)
}

// Tell reports the logical position: underlying tell minus unread
// buffer tail (read) or plus unflushed buffer head (write).
func (f *File) Tell() (int64, error) {
	t, err := f.stream.Tell()
	if err != nil {
		return -1, err
	}
	if f.forReading {
		return t - int64(f.fill-f.pos), nil
	}
	return t + int64(f.fill), nil
}

// Length returns the underlying stream's total size.
func (f *File) Length() (int64, error) {
	return f.stream.Length()
}

// EOF reports whether the handle has consumed the entire stream.
func (f *File) EOF() bool {
	length, err := f.stream.Length()
	if err != nil {
		return false
	}
	pos, err := f.Tell()
	if err != nil {
		return false
	}
	return pos >= length
}

func (f *File) flushLocked() error {
	if f.forReading || f.fill == 0 {
		return nil
	}
	n, err := f.stream.Write(f.buf[:f.fill])
	f.fill = copy(f.buf, f.buf[n:f.fill])
	if err != nil {
		return err
	}
	return f.stream.Flush()
}

// Flush writes any buffered bytes through to the underlying stream.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

// Close flushes (for write handles) and destroys the underlying
// stream, then releases this handle's reference on its mount. A
// failed flush leaves the handle open so the caller can retry.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	if err := f.flushLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	err := f.stream.Destroy()
	f.closed = true
	f.mu.Unlock()

	if f.fs != nil {
		f.fs.releaseHandle(f.mount)
	}
	return err
}
