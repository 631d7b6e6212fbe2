package qpak

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	metaphysfs "github.com/Epixu/metaphysfs"
)

// buildQPAK assembles a minimal valid Quake PACK archive. Each entry's
// name is padded/truncated to 56 bytes and its directory record is the
// fixed 64-byte layout: name(56) + pos(4) + size(4).
func buildQPAK(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}

	var data bytes.Buffer
	offsets := make(map[string]uint32, len(names))
	for _, n := range names {
		offsets[n] = uint32(data.Len())
		data.Write(entries[n])
	}

	headerLen := uint32(12)
	dataLen := uint32(data.Len())
	dirOff := headerLen + dataLen
	dirLen := uint32(64 * len(names))

	var buf bytes.Buffer
	buf.WriteString(signature)
	binary.Write(&buf, binary.LittleEndian, dirOff)
	binary.Write(&buf, binary.LittleEndian, dirLen)
	buf.Write(data.Bytes())
	for _, n := range names {
		nameBuf := make([]byte, 56)
		copy(nameBuf, n)
		buf.Write(nameBuf)
		binary.Write(&buf, binary.LittleEndian, offsets[n]+headerLen)
		binary.Write(&buf, binary.LittleEndian, uint32(len(entries[n])))
	}
	return buf.Bytes()
}

func TestOpenArchiveAndReadEntry(t *testing.T) {
	raw := buildQPAK(t, map[string][]byte{"maps/e1m1.bsp": []byte("bspdata")})

	arc, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(raw), "test.pak", false)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	defer arc.Close()

	s, err := arc.OpenRead("maps/e1m1.bsp")
	if err != nil {
		t.Fatalf("OpenRead() failed: %v", err)
	}
	data, err := io.ReadAll(streamAsReader{s})
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if string(data) != "bspdata" {
		t.Fatalf("content = %q, want bspdata", data)
	}
}

func TestOpenArchiveRejectsBadSignature(t *testing.T) {
	_, err := Backend().OpenArchive(metaphysfs.NewMemoryStream([]byte("not a pack file at all!")), "bad.pak", false)
	if err == nil {
		t.Fatal("OpenArchive() should reject a buffer without the PACK signature")
	}
}

func TestOpenArchiveRejectsMisalignedDirLen(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(signature)
	binary.Write(&buf, binary.LittleEndian, uint32(12))
	binary.Write(&buf, binary.LittleEndian, uint32(65)) // not a multiple of 64

	_, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(buf.Bytes()), "bad.pak", false)
	if err == nil {
		t.Fatal("OpenArchive() should reject a dir_len that isn't a multiple of 64")
	} else if e, ok := err.(*metaphysfs.Error); !ok || e.Code != metaphysfs.Corrupt {
		t.Fatalf("expected Corrupt, got %v", err)
	}
}

func TestDirectoryEnumeratesNestedPaths(t *testing.T) {
	raw := buildQPAK(t, map[string][]byte{
		"maps/e1m1.bsp": []byte("a"),
		"maps/e1m2.bsp": []byte("bb"),
		"sound/door.wav": []byte("ccc"),
	})
	arc, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(raw), "test.pak", false)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	defer arc.Close()

	var names []string
	if err := arc.Enumerate("maps", func(n string) error {
		names = append(names, n)
		return nil
	}); err != nil {
		t.Fatalf("Enumerate() failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("Enumerate(maps) returned %d names, want 2", len(names))
	}
}

type streamAsReader struct{ s metaphysfs.Stream }

func (r streamAsReader) Read(p []byte) (int, error) {
	n, err := r.s.Read(p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}
