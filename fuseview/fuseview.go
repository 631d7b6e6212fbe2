// Package fuseview projects a *metaphysfs.FileSystem onto a real
// mountpoint as a read-only FUSE filesystem, using
// github.com/hanwen/go-fuse/v2.
package fuseview

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	metaphysfs "github.com/Epixu/metaphysfs"
)

// Options configures the FUSE projection.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// Created if it does not exist.
	Mountpoint string

	// FS is the virtual filesystem being projected. Required.
	FS *metaphysfs.FileSystem

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a logger writing
	// Error-level messages to stderr is used.
	Logger *slog.Logger
}

// Mount mounts the virtual filesystem at the configured mountpoint.
// The caller must call Unmount on the returned Server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.FS == nil {
		return nil, fmt.Errorf("fs is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &dirNode{options: &options, path: ""}

	entryTimeout := time.Second
	attrTimeout := time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "metaphysfs",
			Name:       "metaphysfs",
			AllowOther: options.AllowOther,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("virtual filesystem mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// dirNode is a directory in the projected tree, identified by its
// virtual path relative to the filesystem root ("" for the root).
type dirNode struct {
	gofuse.Inode
	options *Options
	path    string
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) child(name string) string {
	if d.path == "" {
		return name
	}
	return d.path + "/" + name
}

func (d *dirNode) Getattr(_ context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o555
	return 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childPath := d.child(name)
	st, err := d.options.FS.Stat(metaphysfs.Path(childPath))
	if err != nil {
		return nil, syscall.ENOENT
	}

	if st.IsDir {
		node := &dirNode{options: d.options, path: childPath}
		inode := d.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFDIR})
		out.Mode = syscall.S_IFDIR | 0o555
		return inode, 0
	}

	node := &fileNode{options: d.options, path: childPath, size: st.FileSize}
	inode := d.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(st.FileSize)
	return inode, 0
}

func (d *dirNode) Readdir(_ context.Context) (gofuse.DirStream, syscall.Errno) {
	names, err := d.options.FS.Enumerate(metaphysfs.Path(d.path))
	if err != nil {
		d.options.Logger.Error("enumerate failed", "path", d.path, "error", err)
		return nil, syscall.EIO
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		mode := uint32(syscall.S_IFREG)
		if st, err := d.options.FS.Stat(metaphysfs.Path(d.child(name))); err == nil && st.IsDir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return &sliceDirStream{entries: entries}, 0
}

// fileNode is a regular file in the projected tree. Each Open call
// starts its own *metaphysfs.File handle; reads seek to the requested
// offset since the kernel may issue reads out of order.
type fileNode struct {
	gofuse.Inode
	options *Options
	path    string
	size    int64
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (f *fileNode) Getattr(_ context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(f.size)
	return 0
}

func (f *fileNode) Open(_ context.Context, _ uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	file, err := f.options.FS.OpenRead(metaphysfs.Path(f.path))
	if err != nil {
		f.options.Logger.Error("open failed", "path", f.path, "error", err)
		return nil, 0, syscall.EIO
	}
	return &fileHandle{file: file}, fuse.FOPEN_KEEP_CACHE, 0
}

type fileHandle struct {
	mu   sync.Mutex
	file *metaphysfs.File
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Read(_ context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.file.Seek(off); err != nil {
		return nil, syscall.EIO
	}
	total := 0
	for total < len(dest) {
		n, err := h.file.Read(dest[total:])
		total += n
		if n == 0 {
			break
		}
		if err != nil {
			break
		}
	}
	return fuse.ReadResultData(dest[:total]), 0
}

func (h *fileHandle) Release(context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.file.Close()
	return 0
}

func (f *fileNode) Read(ctx context.Context, fh gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h, ok := fh.(*fileHandle)
	if !ok {
		return nil, syscall.EIO
	}
	return h.Read(ctx, dest, off)
}

type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool { return s.index < len(s.entries) }

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
