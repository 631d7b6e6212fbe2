// Package grp implements the Build engine Groupfile format, bit-exact
// per the adapter contract in physfs_archiver_grp.cpp.
package grp

import (
	"bytes"
	"encoding/binary"
	"strings"

	metaphysfs "github.com/Epixu/metaphysfs"
)

const signature = "KenSilverman"

type backend struct{}

// Backend returns the GRP format adapter. Callers register it with
// metaphysfs.RegisterBackend to make .grp mounts work.
func Backend() metaphysfs.Backend { return backend{} }

func (backend) Info() metaphysfs.BackendInfo {
	return metaphysfs.BackendInfo{
		Extension:        "grp",
		Description:      "Build engine Groupfile format",
		Author:           "Ken Silverman (format); Ryan C. Gordon (original driver)",
		URL:              "https://icculus.org/physfs/",
		SupportsSymlinks: false,
	}
}

func (backend) OpenArchive(parent metaphysfs.Stream, name string, forWriting bool) (metaphysfs.Archive, error) {
	if forWriting {
		return nil, metaphysfs.NewError(metaphysfs.ReadOnly, "open_archive", name)
	}

	sig := make([]byte, 12)
	if _, err := readAll(parent, sig); err != nil {
		return nil, metaphysfs.ErrUnclaimed()
	}
	if !bytes.Equal(sig, []byte(signature)) {
		return nil, metaphysfs.ErrUnclaimed()
	}

	var count uint32
	if err := binary.Read(streamReader{parent}, binary.LittleEndian, &count); err != nil {
		return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
	}

	arc := metaphysfs.OpenUnpackedArchive(parent, false, true)

	pos := int64(16 + 16*count)
	for i := uint32(0); i < count; i++ {
		nameBuf := make([]byte, 12)
		if _, err := readAll(parent, nameBuf); err != nil {
			arc.Abandon()
			return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
		}
		var size uint32
		if err := binary.Read(streamReader{parent}, binary.LittleEndian, &size); err != nil {
			arc.Abandon()
			return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
		}
		entryName := strings.TrimRight(string(nameBuf), " \x00")
		if idx := strings.IndexByte(entryName, ' '); idx >= 0 {
			entryName = entryName[:idx]
		}
		if err := arc.AddEntry(entryName, false, false, pos, int64(size)); err != nil {
			arc.Abandon()
			return nil, err
		}
		pos += int64(size)
	}

	return arc, nil
}

// streamReader adapts metaphysfs.Stream to io.Reader for binary.Read.
type streamReader struct{ s metaphysfs.Stream }

func (r streamReader) Read(p []byte) (int, error) { return r.s.Read(p) }

func readAll(s metaphysfs.Stream, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.Read(buf[total:])
		total += n
		if n == 0 || err != nil {
			if err != nil {
				return total, err
			}
			break
		}
	}
	if total < len(buf) {
		return total, metaphysfs.NewError(metaphysfs.Corrupt, "read", "")
	}
	return total, nil
}
