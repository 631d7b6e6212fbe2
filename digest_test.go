package metaphysfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDigestIsStableAndContentSensitive(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("same content"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("same content"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "c.txt"), []byte("different content"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	fs := New()
	if err := fs.Mount(dir, "/", true); err != nil {
		t.Fatalf("Mount() failed: %v", err)
	}

	da, err := fs.Digest("/a.txt")
	if err != nil {
		t.Fatalf("Digest() failed: %v", err)
	}
	db, err := fs.Digest("/b.txt")
	if err != nil {
		t.Fatalf("Digest() failed: %v", err)
	}
	dc, err := fs.Digest("/c.txt")
	if err != nil {
		t.Fatalf("Digest() failed: %v", err)
	}

	if da != db {
		t.Fatalf("digests of identical content should match: %q != %q", da, db)
	}
	if da == dc {
		t.Fatal("digests of different content should not match")
	}
	if len(da) != 64 {
		t.Fatalf("expected a 32-byte hex BLAKE3 digest (64 chars), got %d", len(da))
	}
}

func TestDigestMissingFile(t *testing.T) {
	fs := New()
	if _, err := fs.Digest("/nope.txt"); err == nil {
		t.Fatal("Digest() should fail for a missing file")
	}
}
