// Package qpak implements the Quake I/II PAK format, bit-exact per
// the adapter contract in physfs_archiver_qpak.cpp, including its
// "dir_len % 64 != 0" corruption check.
package qpak

import (
	"bytes"
	"encoding/binary"
	"strings"

	metaphysfs "github.com/Epixu/metaphysfs"
)

const signature = "PACK"

type backend struct{}

// Backend returns the QPAK format adapter.
func Backend() metaphysfs.Backend { return backend{} }

func (backend) Info() metaphysfs.BackendInfo {
	return metaphysfs.BackendInfo{
		Extension:        "pak",
		Description:      "Quake I/II format",
		Author:           "Ryan C. Gordon <icculus@icculus.org>",
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

	var dirOff, dirLen uint32
	if err := binary.Read(streamReader{parent}, binary.LittleEndian, &dirOff); err != nil {
		return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
	}
	if err := binary.Read(streamReader{parent}, binary.LittleEndian, &dirLen); err != nil {
		return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
	}

	// corrupted archive?
	if dirLen%64 != 0 {
		return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
	}
	count := dirLen / 64

	if err := parent.Seek(int64(dirOff)); err != nil {
		return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
	}

	arc := metaphysfs.OpenUnpackedArchive(parent, true, false)

	for i := uint32(0); i < count; i++ {
		nameBuf := make([]byte, 56)
		if _, err := readAll(parent, nameBuf); err != nil {
			arc.Abandon()
			return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
		}
		var pos, size uint32
		if err := binary.Read(streamReader{parent}, binary.LittleEndian, &pos); err != nil {
			arc.Abandon()
			return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
		}
		if err := binary.Read(streamReader{parent}, binary.LittleEndian, &size); err != nil {
			arc.Abandon()
			return nil, metaphysfs.NewError(metaphysfs.Corrupt, "open_archive", name)
		}
		entryName := strings.TrimRight(string(nameBuf), "\x00")
		if err := arc.AddEntry(entryName, false, false, int64(pos), int64(size)); err != nil {
			arc.Abandon()
			return nil, err
		}
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
