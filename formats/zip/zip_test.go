package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	metaphysfs "github.com/Epixu/metaphysfs"
)

func buildZIP(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip.Create() failed: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write failed: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip.Close() failed: %v", err)
	}
	return buf.Bytes()
}

func TestOpenArchiveAndReadEntry(t *testing.T) {
	raw := buildZIP(t, map[string]string{"dir/hello.txt": "hello world"})

	arc, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(raw), "test.zip", false)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	defer arc.Close()

	s, err := arc.OpenRead("dir/hello.txt")
	if err != nil {
		t.Fatalf("OpenRead() failed: %v", err)
	}
	data, err := io.ReadAll(streamAsReader{s})
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("content = %q, want hello world", data)
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

func TestOpenArchiveRejectsNonZipBuffer(t *testing.T) {
	_, err := Backend().OpenArchive(metaphysfs.NewMemoryStream([]byte("definitely not a zip file")), "bad.zip", false)
	if err == nil {
		t.Fatal("OpenArchive() should reject a buffer that isn't a valid zip")
	}
}

func TestStatReportsDirectoriesAndFiles(t *testing.T) {
	raw := buildZIP(t, map[string]string{"a/b.txt": "x"})
	arc, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(raw), "test.zip", false)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	defer arc.Close()

	st, err := arc.Stat("a")
	if err != nil {
		t.Fatalf("Stat(a) failed: %v", err)
	}
	if !st.IsDir {
		t.Fatal("Stat(a) should report a synthesized directory")
	}

	st, err = arc.Stat("a/b.txt")
	if err != nil {
		t.Fatalf("Stat(a/b.txt) failed: %v", err)
	}
	if st.IsDir || st.FileSize != 1 {
		t.Fatalf("Stat(a/b.txt) = %+v, want file with size 1", st)
	}
}

func TestEnumerateTopLevel(t *testing.T) {
	raw := buildZIP(t, map[string]string{"one.txt": "1", "two.txt": "2"})
	arc, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(raw), "test.zip", false)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	defer arc.Close()

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

func TestEnumerateStopsWithoutError(t *testing.T) {
	raw := buildZIP(t, map[string]string{"one.txt": "1", "two.txt": "2", "three.txt": "3"})
	arc, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(raw), "test.zip", false)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	defer arc.Close()

	seen := 0
	err = arc.Enumerate("", func(string) error {
		seen++
		return metaphysfs.ErrStopEnumeration
	})
	if err != nil {
		t.Fatalf("Enumerate() should report no error after ErrStopEnumeration, got %v", err)
	}
	if seen != 1 {
		t.Fatalf("Enumerate() called the callback %d times, want exactly 1", seen)
	}
}

func TestWriteOperationsAreRejected(t *testing.T) {
	raw := buildZIP(t, map[string]string{"one.txt": "1"})
	arc, err := Backend().OpenArchive(metaphysfs.NewMemoryStream(raw), "test.zip", false)
	if err != nil {
		t.Fatalf("OpenArchive() failed: %v", err)
	}
	defer arc.Close()

	if _, err := arc.OpenWrite("new.txt"); err == nil {
		t.Fatal("OpenWrite() should fail on a read-only zip archive")
	}
	if err := arc.Mkdir("newdir"); err == nil {
		t.Fatal("Mkdir() should fail on a read-only zip archive")
	}
	if err := arc.Remove("one.txt"); err == nil {
		t.Fatal("Remove() should fail on a read-only zip archive")
	}
}
