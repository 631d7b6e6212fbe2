// Package cpio implements "New ASCII"/"New CRC" cpio archives
// (initramfs-style), read-side, using github.com/cavaliergopher/cpio.
// cpio entries are stored uncompressed and contiguous like GRP/MVL/
// QPAK, so they're fed straight into the shared unpacked-archive
// framework once their offsets are known.
package cpio

import (
	"io"
	"strings"

	"github.com/cavaliergopher/cpio"

	metaphysfs "github.com/Epixu/metaphysfs"
)

type backend struct{}

// Backend returns the cpio format adapter.
func Backend() metaphysfs.Backend { return backend{} }

func (backend) Info() metaphysfs.BackendInfo {
	return metaphysfs.BackendInfo{
		Extension:        "cpio",
		Description:      "New ASCII/New CRC cpio archive format",
		Author:           "cavaliergopher/cpio",
		SupportsSymlinks: true,
	}
}

// countingReader tracks the absolute byte offset consumed from a
// Stream, since cpio.Reader only exposes a sequential io.Reader view
// and we need byte offsets to hand to the unpacked-archive framework.
type countingReader struct {
	s   metaphysfs.Stream
	pos int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.s.Read(p)
	c.pos += int64(n)
	return n, err
}

func (backend) OpenArchive(parent metaphysfs.Stream, name string, forWriting bool) (metaphysfs.Archive, error) {
	if forWriting {
		return nil, metaphysfs.NewError(metaphysfs.ReadOnly, "open_archive", name)
	}

	cr := &countingReader{s: parent}
	r := cpio.NewReader(cr)

	// cpio has no magic string exposed through this library; a
	// successfully parsed first header is the claim signal.
	hdr, err := r.Next()
	if err != nil {
		return nil, metaphysfs.ErrUnclaimed()
	}

	arc := metaphysfs.OpenUnpackedArchive(parent, true, false)

	for {
		isDir := hdr.Mode&cpio.TypeDir != 0 || strings.HasSuffix(hdr.Name, "/")
		isSymlink := hdr.Mode&0o170000 == cpio.TypeSymlink
		start := cr.pos
		entryName := strings.Trim(hdr.Name, "/")
		if entryName != "" && entryName != "." {
			if err := arc.AddEntry(entryName, isDir, isSymlink, start, hdr.Size); err != nil {
				arc.Abandon()
				return nil, err
			}
		}
		if !isDir {
			if _, err := io.CopyN(io.Discard, r, hdr.Size); err != nil && err != io.EOF {
				arc.Abandon()
				return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
			}
		}

		hdr, err = r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			arc.Abandon()
			return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
		}
	}

	return arc, nil
}

