// Package mvl implements the Descent II Movielib format, bit-exact
// per the adapter contract in physfs_archiver_mvl.cpp.
package mvl

import (
	"bytes"
	"encoding/binary"
	"strings"

	metaphysfs "github.com/Epixu/metaphysfs"
)

const signature = "DMVL"

type backend struct{}

// Backend returns the MVL format adapter.
func Backend() metaphysfs.Backend { return backend{} }

func (backend) Info() metaphysfs.BackendInfo {
	return metaphysfs.BackendInfo{
		Extension:        "mvl",
		Description:      "Descent II Movielib format",
		Author:           "Bradley Bell <btb@icculus.org>",
		URL:              "https://icculus.org/physfs/",
		SupportsSymlinks: false,
	}
}

func (backend) OpenArchive(parent metaphysfs.Stream, name string, forWriting bool) (metaphysfs.Archive, error) {
	if forWriting {
		return nil, metaphysfs.NewError(metaphysfs.ReadOnly, "open_archive", name)
	}

	sig := make([]byte, 4)
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

	pos := int64(8 + 17*count)
	for i := uint32(0); i < count; i++ {
		nameBuf := make([]byte, 13)
		if _, err := readAll(parent, nameBuf); err != nil {
			arc.Abandon()
			return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
		}
		var size uint32
		if err := binary.Read(streamReader{parent}, binary.LittleEndian, &size); err != nil {
			arc.Abandon()
			return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
		}
		entryName := strings.TrimRight(string(nameBuf), "\x00")
		if err := arc.AddEntry(entryName, false, false, pos, int64(size)); err != nil {
			arc.Abandon()
			return nil, err
		}
		pos += int64(size)
	}

	return arc, nil
}

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
