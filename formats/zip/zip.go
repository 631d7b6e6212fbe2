// Package zip is a thin adapter over archive/zip. Unlike grp/mvl/qpak
// it does not sit on the shared unpacked-archive framework because
// ZIP entries are typically compressed; it registers
// github.com/klauspost/compress/flate as the DEFLATE decompressor for
// speed and exposes its own small directory index.
package zip

import (
	"archive/zip"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"

	metaphysfs "github.com/Epixu/metaphysfs"
)

func init() {
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

type backend struct{}

// Backend returns the ZIP format adapter.
func Backend() metaphysfs.Backend { return backend{} }

func (backend) Info() metaphysfs.BackendInfo {
	return metaphysfs.BackendInfo{
		Extension:        "zip",
		Description:      "PkZip/Info-Zip format",
		Author:           "archive/zip + klauspost/compress",
		SupportsSymlinks: false,
	}
}

type fileEntry struct {
	zf    *zip.File
	isDir bool
}

type archiveImpl struct {
	mu       sync.Mutex
	parent   metaphysfs.Stream
	zr       *zip.Reader
	files    map[string]*fileEntry
	children map[string][]string
}

func (backend) OpenArchive(parent metaphysfs.Stream, name string, forWriting bool) (metaphysfs.Archive, error) {
	if forWriting {
		return nil, metaphysfs.NewError(metaphysfs.ReadOnly, "open_archive", name)
	}

	size, err := parent.Length()
	if err != nil || size <= 0 {
		return nil, metaphysfs.ErrUnclaimed()
	}

	zr, err := zip.NewReader(&streamReaderAt{s: parent}, size)
	if err != nil {
		return nil, metaphysfs.ErrUnclaimed()
	}

	a := &archiveImpl{
		parent:   parent,
		zr:       zr,
		files:    make(map[string]*fileEntry),
		children: make(map[string][]string),
	}
	for _, zf := range zr.File {
		p := strings.Trim(zf.Name, "/")
		isDir := strings.HasSuffix(zf.Name, "/") || p == ""
		if p == "" {
			continue
		}
		a.files[p] = &fileEntry{zf: zf, isDir: isDir}
		a.registerAncestors(p)
	}

	return a, nil
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
		if _, ok := a.files[parent]; !ok {
			a.files[parent] = &fileEntry{isDir: true}
		}
		p = parent
	}
}

func (a *archiveImpl) OpenRead(path string) (metaphysfs.Stream, error) {
	p := strings.Trim(path, "/")
	e, ok := a.files[p]
	if !ok || e.zf == nil {
		return nil, metaphysfs.NewError(metaphysfs.NotFound, "open", path)
	}
	if e.isDir {
		return nil, metaphysfs.NewError(metaphysfs.NotAFile, "open", path)
	}
	rc, err := e.zf.Open()
	if err != nil {
		return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open", path)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
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

func (a *archiveImpl) Remove(string) error { return metaphysfs.NewError(metaphysfs.ReadOnly, "remove", "") }

func (a *archiveImpl) Mkdir(string) error { return metaphysfs.NewError(metaphysfs.ReadOnly, "mkdir", "") }

func (a *archiveImpl) Stat(path string) (*metaphysfs.Stat, error) {
	p := strings.Trim(path, "/")
	if p == "" {
		return &metaphysfs.Stat{IsDir: true, ReadOnly: true, AccessTime: -1}, nil
	}
	e, ok := a.files[p]
	if !ok {
		return nil, metaphysfs.NewError(metaphysfs.NotFound, "stat", path)
	}
	st := &metaphysfs.Stat{IsDir: e.isDir, ReadOnly: true, AccessTime: -1}
	if e.zf != nil {
		st.FileSize = int64(e.zf.UncompressedSize64)
		st.ModTime = e.zf.Modified.Unix()
		st.IsSymlink = e.zf.Mode()&0o170000 == 0o120000
	}
	return st, nil
}

func (a *archiveImpl) Enumerate(path string, cb metaphysfs.EnumerateCallback) error {
	p := strings.Trim(path, "/")
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
	return a.parent.Destroy()
}

// streamReaderAt adapts metaphysfs.Stream to io.ReaderAt, guarding the
// underlying cursor with a mutex since Stream itself is single-cursor.
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
		n, err := r.s.Read(p[total:])
		total += n
		if n == 0 {
			if err == nil {
				err = io.EOF
			}
			return total, err
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
