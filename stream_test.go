package metaphysfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryStreamReadWrite(t *testing.T) {
	s := NewMemoryStream([]byte("hello world"))
	buf := make([]byte, 5)
	n, err := s.Read(buf)
	if err != nil || n != 5 {
		t.Fatalf("Read() = %d, %v", n, err)
	}
	if string(buf) != "hello" {
		t.Fatalf("Read() got %q", buf)
	}
	if err := s.Seek(0); err != nil {
		t.Fatalf("Seek() failed: %v", err)
	}
	n, _ = s.Read(buf)
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("re-read after seek got %q", buf[:n])
	}
}

func TestMemoryStreamGrowsOnWrite(t *testing.T) {
	s := NewMemoryStream(nil)
	n, err := s.Write([]byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	length, _ := s.Length()
	if length != 3 {
		t.Fatalf("Length() = %d, want 3", length)
	}
}

func TestMemoryStreamDuplicateSharesBuffer(t *testing.T) {
	s := NewMemoryStream([]byte("hello"))
	dup, err := s.Duplicate()
	if err != nil {
		t.Fatalf("Duplicate() failed: %v", err)
	}
	if _, err := s.Write([]byte("XXXXX")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	buf := make([]byte, 5)
	n, _ := dup.Read(buf)
	if n != 5 || string(buf) != "XXXXX" {
		t.Fatalf("expected duplicate to observe the shared write, got %q", buf[:n])
	}
}

func TestByteRangeStreamClamps(t *testing.T) {
	parent := NewMemoryStream([]byte("0123456789"))
	r := NewByteRangeStream(parent, 2, 3) // "234"
	if err := r.Seek(0); err != nil {
		t.Fatalf("Seek(0) failed: %v", err)
	}
	buf := make([]byte, 10)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if string(buf[:n]) != "234" {
		t.Fatalf("Read() = %q, want 234", buf[:n])
	}
}

func TestByteRangeStreamRejectsSeekToEOF(t *testing.T) {
	parent := NewMemoryStream([]byte("0123456789"))
	r := NewByteRangeStream(parent, 0, 5)
	if err := r.Seek(5); err == nil {
		t.Fatal("expected seeking to offset == size to fail")
	} else if e, ok := err.(*Error); !ok || e.Code != PastEOF {
		t.Fatalf("expected PastEOF, got %v", err)
	}
	if err := r.Seek(4); err != nil {
		t.Fatalf("Seek(4) should succeed: %v", err)
	}
}

func TestByteRangeStreamZeroLength(t *testing.T) {
	parent := NewMemoryStream([]byte("x"))
	r := NewByteRangeStream(parent, 0, 0)
	if err := r.Seek(0); err == nil {
		t.Fatal("expected Seek(0) on a zero-size range to fail with PastEOF")
	} else if e, ok := err.(*Error); !ok || e.Code != PastEOF {
		t.Fatalf("expected PastEOF, got %v", err)
	}
	buf := make([]byte, 4)
	n, _ := r.Read(buf)
	if n != 0 {
		t.Fatalf("Read() on empty range = %d, want 0", n)
	}
}

func TestNativeStreamRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}

	s, err := openNativeStream(path, modeRead)
	if err != nil {
		t.Fatalf("openNativeStream() failed: %v", err)
	}
	defer s.Destroy()

	buf := make([]byte, 7)
	n, err := s.Read(buf)
	if err != nil || n != 7 || string(buf) != "payload" {
		t.Fatalf("Read() = %d, %q, %v", n, buf, err)
	}

	if _, err := s.Write([]byte("x")); err == nil {
		t.Fatal("expected write on a read-mode stream to fail")
	}

	dup, err := s.Duplicate()
	if err != nil {
		t.Fatalf("Duplicate() failed: %v", err)
	}
	defer dup.Destroy()
	length, err := dup.Length()
	if err != nil || length != 7 {
		t.Fatalf("Length() = %d, %v", length, err)
	}
}
