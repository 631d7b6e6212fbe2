package grp

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	metaphysfs "github.com/Epixu/metaphysfs"
)

// buildGRP assembles a minimal valid KenSilverman GRP archive with the
// given name/payload pairs. Names are padded/truncated to 12 bytes.
func buildGRP(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}

	var buf bytes.Buffer
	buf.WriteString(signature)
	binary.Write(&buf, binary.LittleEndian, uint32(len(names)))
	for _, n := range names {
		nameBuf := make([]byte, 12)
		copy(nameBuf, n)
		buf.Write(nameBuf)
		binary.Write(&buf, binary.LittleEndian, uint32(len(entries[n])))
	}
	for _, n := range names {
		buf.Write(entries[n])
	}
	return buf.Bytes()
}

func TestOpenArchiveAndReadEntry(t *testing.T) {
	raw := buildGRP(t, map[string][]byte{"TILES001": []byte("tiledata")})

	arc, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(raw), "test.grp", false)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	defer arc.Close()

	s, err := arc.OpenRead("TILES001")
	if err != nil {
		t.Fatalf("OpenRead() failed: %v", err)
	}
	data, err := io.ReadAll(streamAsReader{s})
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if string(data) != "tiledata" {
		t.Fatalf("content = %q, want tiledata", data)
	}
}

func TestOpenArchiveRejectsBadSignature(t *testing.T) {
	_, err := Backend().OpenArchive(metaphysfs.NewMemoryStream([]byte("not a grp file at all!!")), "bad.grp", false)
	if err == nil {
		t.Fatal("OpenArchive() should reject a buffer without the KenSilverman signature")
	}
}

func TestOpenArchiveRejectsWriting(t *testing.T) {
	_, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(nil), "x.grp", true)
	if err == nil {
		t.Fatal("OpenArchive() should reject forWriting=true")
	}
}

func TestStatAndEnumerate(t *testing.T) {
	raw := buildGRP(t, map[string][]byte{
		"A": []byte("1"),
		"B": []byte("22"),
	})
	arc, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(raw), "test.grp", false)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	defer arc.Close()

	st, err := arc.Stat("B")
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if st.FileSize != 2 {
		t.Fatalf("FileSize = %d, want 2", st.FileSize)
	}

	var names []string
	if err := arc.Enumerate("", func(n string) error {
		names = append(names, n)
		return nil
	}); err != nil {
		t.Fatalf("Enumerate() failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("Enumerate() returned %d names, want 2", len(names))
	}
}

// streamAsReader adapts metaphysfs.Stream to io.Reader for io.ReadAll,
// translating the (0, nil) end-of-stream signal into io.EOF.
type streamAsReader struct{ s metaphysfs.Stream }

func (r streamAsReader) Read(p []byte) (int, error) {
	n, err := r.s.Read(p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}
