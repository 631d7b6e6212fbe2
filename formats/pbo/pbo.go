// Package pbo implements Bohemia Interactic's packed-file archive
// format (Arma/OFP mod archives) using github.com/woozymasta/pbo.
// Entries may be LZSS-compressed, so unlike grp/mvl/qpak/cpio this
// backend does not sit on the shared unpacked-archive framework; it
// buffers each entry fully into memory on open (see DESIGN.md).
package pbo

import (
	"strings"
	"sync"

	woozypbo "github.com/woozymasta/pbo"

	metaphysfs "github.com/Epixu/metaphysfs"
)

type backend struct{}

// Backend returns the PBO format adapter.
func Backend() metaphysfs.Backend { return backend{} }

func (backend) Info() metaphysfs.BackendInfo {
	return metaphysfs.BackendInfo{
		Extension:        "pbo",
		Description:      "Bohemia Interactive packed archive format",
		Author:           "woozymasta/pbo",
		SupportsSymlinks: false,
	}
}

type archiveImpl struct {
	parent   metaphysfs.Stream
	reader   *woozypbo.Reader
	children map[string][]string
	dirs     map[string]bool
}

func (backend) OpenArchive(parent metaphysfs.Stream, name string, forWriting bool) (metaphysfs.Archive, error) {
	if forWriting {
		return nil, metaphysfs.NewError(metaphysfs.ReadOnly, "open_archive", name)
	}

	size, err := parent.Length()
	if err != nil || size <= 0 {
		return nil, metaphysfs.ErrUnclaimed()
	}

	r, err := woozypbo.NewReaderFromReaderAt(&streamReaderAt{s: parent}, size)
	if err != nil {
		return nil, metaphysfs.ErrUnclaimed()
	}

	a := &archiveImpl{
		parent:   parent,
		reader:   r,
		children: make(map[string][]string),
		dirs:     make(map[string]bool),
	}
	for _, e := range r.Entries() {
		p := normalize(e.Path)
		if p == "" {
			continue
		}
		a.registerAncestors(p)
	}

	return a, nil
}

func normalize(p string) string {
	return strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
}

func (a *archiveImpl) registerAncestors(p string) {
	for {
		i := strings.LastIndexByte(p, '/')
		var parent, child string
		if i < 0 {
			parent, child = "", p
		} else {
			parent, child = p[:i], p[i+1:]
		}
		siblings := a.children[parent]
		found := false
		for _, s := range siblings {
			if s == child {
				found = true
				break
			}
		}
		if !found {
			a.children[parent] = append(a.children[parent], child)
		}
		if i < 0 {
			return
		}
		a.dirs[parent] = true
		p = parent
	}
}

func (a *archiveImpl) findEntry(path string) *woozypbo.EntryInfo {
	p := normalize(path)
	for _, e := range a.reader.Entries() {
		if normalize(e.Path) == p {
			return &e
		}
	}
	return nil
}

func (a *archiveImpl) OpenRead(path string) (metaphysfs.Stream, error) {
	e := a.findEntry(path)
	if e == nil {
		return nil, metaphysfs.NewError(metaphysfs.NotFound, "open", path)
	}
	data, err := a.reader.ReadEntry(e.Path)
	if err != nil {
		return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open", path)
	}
	return metaphysfs.NewMemoryStream(data), nil
}

func (a *archiveImpl) OpenWrite(string) (metaphysfs.Stream, error) {
	return nil, metaphysfs.NewError(metaphysfs.ReadOnly, "open_write", "")
}

func (a *archiveImpl) OpenAppend(string) (metaphysfs.Stream, error) {
	return nil, metaphysfs.NewError(metaphysfs.ReadOnly, "open_append", "")
}

func (a *archiveImpl) Remove(string) error {
	return metaphysfs.NewError(metaphysfs.ReadOnly, "remove", "")
}

func (a *archiveImpl) Mkdir(string) error {
	return metaphysfs.NewError(metaphysfs.ReadOnly, "mkdir", "")
}

func (a *archiveImpl) Stat(path string) (*metaphysfs.Stat, error) {
	p := normalize(path)
	if p == "" || a.dirs[p] {
		return &metaphysfs.Stat{IsDir: true, ReadOnly: true, AccessTime: -1}, nil
	}
	e := a.findEntry(path)
	if e == nil {
		return nil, metaphysfs.NewError(metaphysfs.NotFound, "stat", path)
	}
	size := int64(e.DataSize)
	if e.IsCompressed() {
		size = int64(e.OriginalSize)
	}
	return &metaphysfs.Stat{
		FileSize:   size,
		ReadOnly:   true,
		ModTime:    int64(e.TimeStamp),
		AccessTime: -1,
	}, nil
}

func (a *archiveImpl) Enumerate(path string, cb metaphysfs.EnumerateCallback) error {
	p := normalize(path)
	names, ok := a.children[p]
	if !ok && p != "" {
		return metaphysfs.NewError(metaphysfs.NotFound, "enumerate", path)
	}
	for _, n := range names {
		if err := cb(n); err != nil {
			if err == metaphysfs.ErrStopEnumeration {
				return nil
			}
			return metaphysfs.NewError(metaphysfs.AppCallback, "enumerate", path)
		}
	}
	return nil
}

func (a *archiveImpl) Close() error {
	_ = a.reader.Close()
	return a.parent.Destroy()
}

// streamReaderAt adapts metaphysfs.Stream to io.ReaderAt.
type streamReaderAt struct {
	mu sync.Mutex
	s  metaphysfs.Stream
}

func (r *streamReaderAt) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.s.Seek(off); err != nil {
		return 0, err
	}
	total := 0
	for total < len(p) {
		n, readErr := r.s.Read(p[total:])
		total += n
		if n == 0 {
			if readErr == nil {
				return total, metaphysfs.NewError(metaphysfs.IO, "read_at", "")
			}
			return total, readErr
		}
		if readErr != nil {
			return total, readErr
		}
	}
	return total, nil
}
