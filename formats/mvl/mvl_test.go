package mvl

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	metaphysfs "github.com/Epixu/metaphysfs"
)

func buildMVL(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}

	var buf bytes.Buffer
	buf.WriteString(signature)
	binary.Write(&buf, binary.LittleEndian, uint32(len(names)))
	for _, n := range names {
		nameBuf := make([]byte, 13)
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
	raw := buildMVL(t, map[string][]byte{"intro.mve": []byte("moviebytes")})

	arc, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(raw), "test.mvl", false)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	defer arc.Close()

	s, err := arc.OpenRead("intro.mve")
	if err != nil {
		t.Fatalf("OpenRead() failed: %v", err)
	}
	data, err := io.ReadAll(streamAsReader{s})
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if string(data) != "moviebytes" {
		t.Fatalf("content = %q, want moviebytes", data)
	}
}

func TestOpenArchiveRejectsBadSignature(t *testing.T) {
	_, err := Backend().OpenArchive(metaphysfs.NewMemoryStream([]byte("XXXXno signature here")), "bad.mvl", false)
	if err == nil {
		t.Fatal("OpenArchive() should reject a buffer without the DMVL signature")
	}
}

func TestStatMissingEntry(t *testing.T) {
	raw := buildMVL(t, map[string][]byte{"a.mve": []byte("x")})
	arc, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(raw), "test.mvl", false)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	defer arc.Close()

	if _, err := arc.Stat("missing.mve"); err == nil {
		t.Fatal("Stat() should fail for an entry that doesn't exist")
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
