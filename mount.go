package metaphysfs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

func osMkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

// mountRecord is one entry of the search path: an opened archive plus
// the mount metadata describing where in the virtual namespace it sits.
type mountRecord struct {
	dirName    string // the source identifier used for idempotent mount / unmount
	archive    Archive
	backend    Backend
	mountPoint Path
	subRoot    Path
	write      bool
}

// FileSystem holds the state of one mount stack: search path, optional
// write directory, and the open-handle bookkeeping needed to reject
// Unmount while files are open. Grounded on dp_mountabledataprovider.go
// and rootprovider.go (teacher) generalized from an unordered
// map[Path]DataProvider to an ordered slice, since search-path order
// is a first-class part of the contract here.
type FileSystem struct {
	mu                sync.RWMutex
	searchPath        []*mountRecord
	writeDir          *mountRecord
	openHandles       map[*mountRecord]int
	symlinksPermitted bool
	mountGroup        singleflight.Group
}

// New creates an empty FileSystem. There is no process-wide singleton;
// callers construct and hold their own instance.
func New() *FileSystem {
	return &FileSystem{
		openHandles: make(map[*mountRecord]int),
	}
}

// PermitSymbolicLinks toggles the global symlink policy consulted by
// verifyPath.
func (fs *FileSystem) PermitSymbolicLinks(allow bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.symlinksPermitted = allow
}

// Mount opens source (a directory or archive path on disk) and adds
// it to the search path. If source is already mounted, Mount succeeds
// idempotently rather than mounting it a second time.
func (fs *FileSystem) Mount(source string, mountPoint Path, appendMount bool) error {
	fs.mu.RLock()
	for _, m := range fs.searchPath {
		if m.dirName == source {
			fs.mu.RUnlock()
			return nil
		}
	}
	fs.mu.RUnlock()

	v, err, _ := fs.mountGroup.Do(source, func() (interface{}, error) {
		archive, backend, err := openSource(source, false)
		if err != nil {
			return nil, err
		}
		return &mountRecord{dirName: source, archive: archive, backend: backend}, nil
	})
	if err != nil {
		return err
	}
	rec := v.(*mountRecord)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, m := range fs.searchPath {
		if m.dirName == source {
			if m.archive != rec.archive {
				_ = rec.archive.Close()
			}
			return nil
		}
	}
	rec.mountPoint = normalizeMountPoint(mountPoint)
	fs.insertMount(rec, appendMount)
	return nil
}

// MountMemory mounts an in-memory buffer as an archive.
func (fs *FileSystem) MountMemory(buf []byte, name string, mountPoint Path, appendMount bool) error {
	return fs.mountStream(NewMemoryStream(buf), name, mountPoint, appendMount)
}

// MountHandle mounts an already-open Stream directly, without going
// through a named source on disk.
func (fs *FileSystem) MountHandle(s Stream, name string, mountPoint Path, appendMount bool) error {
	return fs.mountStream(s, name, mountPoint, appendMount)
}

func (fs *FileSystem) mountStream(s Stream, name string, mountPoint Path, appendMount bool) error {
	fs.mu.RLock()
	for _, m := range fs.searchPath {
		if m.dirName == name {
			fs.mu.RUnlock()
			return nil
		}
	}
	fs.mu.RUnlock()

	archive, backend, err := claimStream(s, name)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, m := range fs.searchPath {
		if m.dirName == name {
			_ = archive.Close()
			return nil
		}
	}
	rec := &mountRecord{
		dirName:    name,
		archive:    archive,
		backend:    backend,
		mountPoint: normalizeMountPoint(mountPoint),
	}
	fs.insertMount(rec, appendMount)
	return nil
}

func (fs *FileSystem) insertMount(rec *mountRecord, appendMount bool) {
	if appendMount {
		fs.searchPath = append(fs.searchPath, rec)
	} else {
		fs.searchPath = append([]*mountRecord{rec}, fs.searchPath...)
	}
}

func normalizeMountPoint(p Path) Path {
	s := p.String()
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return Path(s)
}

// openSource resolves a disk path into an opened Archive, trying the
// real-directory backend first and falling back to the registered
// archive backends otherwise.
func openSource(source string, forWriting bool) (Archive, Backend, error) {
	db := dirBackend{}
	if a, err := db.OpenArchive(nil, source, forWriting); err == nil {
		return a, db, nil
	}

	s, err := openNativeStream(source, modeRead)
	if err != nil {
		return nil, nil, err
	}
	archive, backend, err := claimStream(s, source)
	if err != nil {
		_ = s.Destroy()
		return nil, nil, err
	}
	return archive, backend, nil
}

// claimStream tries every registered backend against s, the extension
// match first, rewinding s to offset 0 before each attempt.
func claimStream(s Stream, name string) (Archive, Backend, error) {
	all := registeredBackends()
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))

	ordered := make([]Backend, 0, len(all))
	for _, b := range all {
		if strings.EqualFold(b.Info().Extension, ext) {
			ordered = append(ordered, b)
		}
	}
	for _, b := range all {
		if !strings.EqualFold(b.Info().Extension, ext) {
			ordered = append(ordered, b)
		}
	}

	for _, b := range ordered {
		if err := s.Seek(0); err != nil {
			return nil, nil, err
		}
		a, err := b.OpenArchive(s, name, false)
		if err == nil {
			return a, b, nil
		}
		if err != errUnclaimed {
			return nil, nil, err
		}
	}
	return nil, nil, newError(Unsupported, "mount", name)
}

// Unmount removes source from the search path. It fails with
// FilesStillOpen if any handle still references it.
func (fs *FileSystem) Unmount(source string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i, m := range fs.searchPath {
		if m.dirName == source {
			if fs.openHandles[m] > 0 {
				return newError(FilesStillOpen, "unmount", source)
			}
			fs.searchPath = append(fs.searchPath[:i], fs.searchPath[i+1:]...)
			delete(fs.openHandles, m)
			return m.archive.Close()
		}
	}
	return newError(NotMounted, "unmount", source)
}

// SetRoot re-anchors dirName's lookups at subdir inside its own
// namespace.
func (fs *FileSystem) SetRoot(dirName string, subdir Path) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, m := range fs.searchPath {
		if m.dirName == dirName {
			clean, err := sanitize(subdir.String())
			if err != nil {
				return err
			}
			m.subRoot = clean
			return nil
		}
	}
	return newError(NotMounted, "set_root", dirName)
}

// SetWriteDir discards any prior write directory and mounts path as
// the sole writable overlay.
func (fs *FileSystem) SetWriteDir(path string) error {
	fs.mu.Lock()
	if fs.writeDir != nil && fs.openHandles[fs.writeDir] > 0 {
		fs.mu.Unlock()
		return newError(FilesStillOpen, "set_write_dir", path)
	}
	prev := fs.writeDir
	fs.mu.Unlock()

	if prev != nil {
		_ = prev.archive.Close()
	}

	if path == "" {
		fs.mu.Lock()
		fs.writeDir = nil
		fs.mu.Unlock()
		return nil
	}

	db := dirBackend{}
	a, err := db.OpenArchive(nil, path, true)
	if err != nil {
		if mkErr := osMkdirAll(path); mkErr != nil {
			return newError(IO, "set_write_dir", path)
		}
		a, err = db.OpenArchive(nil, path, true)
		if err != nil {
			return newError(IO, "set_write_dir", path)
		}
	}

	fs.mu.Lock()
	fs.writeDir = &mountRecord{dirName: path, archive: a, backend: db, write: true}
	fs.mu.Unlock()
	return nil
}

// GetWriteDir returns the current write directory source, or "".
func (fs *FileSystem) GetWriteDir() string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.writeDir == nil {
		return ""
	}
	return fs.writeDir.dirName
}

// GetSearchPath returns the mount sources in search order.
func (fs *FileSystem) GetSearchPath() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]string, len(fs.searchPath))
	for i, m := range fs.searchPath {
		out[i] = m.dirName
	}
	return out
}

// GetMountPoint returns the mount point of dirName, or "" with
// NotMounted if it isn't mounted.
func (fs *FileSystem) GetMountPoint(dirName string) (Path, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for _, m := range fs.searchPath {
		if m.dirName == dirName {
			return m.mountPoint, nil
		}
	}
	return "", newError(NotMounted, "get_mount_point", dirName)
}

// verifyPath strips m's mount-point from path, prepends its sub-root,
// and (when symlinks are globally forbidden and the backend supports
// them) walks the path segment by segment rejecting any symlink
// prefix.
func (fs *FileSystem) verifyPath(m *mountRecord, path Path, allowMissing bool) (string, error) {
	full := path.String()
	mp := string(m.mountPoint) // always ends with "/"
	rel := strings.TrimPrefix(full, "/")
	if mp != "/" {
		mpBare := strings.TrimSuffix(mp, "/") // e.g. "/game"
		if full != mpBare && !strings.HasPrefix(full, mp) {
			return "", newError(NotFound, "verify_path", full)
		}
		rel = strings.TrimPrefix(strings.TrimPrefix(full, mpBare), "/")
	}
	if m.subRoot != "" {
		rel = strings.TrimPrefix(string(m.subRoot)+"/"+rel, "/")
	}

	if !fs.symlinksPermitted && m.backend.Info().SupportsSymlinks {
		segs := strings.Split(rel, "/")
		acc := ""
		for i, seg := range segs {
			if acc == "" {
				acc = seg
			} else {
				acc = acc + "/" + seg
			}
			st, err := m.archive.Stat(acc)
			if err != nil {
				if i == len(segs)-1 && allowMissing {
					break
				}
				return "", err
			}
			if st.IsSymlink {
				return "", newError(SymlinkForbidden, "verify_path", full)
			}
		}
	}

	return rel, nil
}

// isMountPointAncestor reports whether path is a strict ancestor
// directory of mountPoint, and returns the next path segment of
// mountPoint below path, so it can be synthesized as a directory
// entry even if no mount actually has a file there.
func isMountPointAncestor(path Path, mountPoint Path) (string, bool) {
	p := path.String()
	if p != "/" {
		p += "/"
	}
	mp := string(mountPoint)
	if mp == "/" || !strings.HasPrefix(mp, p) {
		return "", false
	}
	rest := strings.TrimPrefix(mp, p)
	rest = strings.TrimSuffix(rest, "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// OpenRead resolves path across the search path and returns the
// first stream any mount provides, wrapped in a buffered File.
func (fs *FileSystem) OpenRead(path Path) (*File, error) {
	clean, err := sanitize(path.String())
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, m := range fs.searchPath {
		rel, err := fs.verifyPath(m, clean, false)
		if err != nil {
			continue
		}
		s, err := m.archive.OpenRead(rel)
		if err != nil {
			continue
		}
		fs.openHandles[m]++
		return newFile(fs, m, s, true), nil
	}
	return nil, newError(NotFound, "open_read", clean.String())
}

// OpenWrite opens path for writing through the write directory.
func (fs *FileSystem) OpenWrite(path Path) (*File, error) {
	return fs.openWriteLike(path, false)
}

// OpenAppend opens path for appending through the write directory.
func (fs *FileSystem) OpenAppend(path Path) (*File, error) {
	return fs.openWriteLike(path, true)
}

func (fs *FileSystem) openWriteLike(path Path, appendMode bool) (*File, error) {
	clean, err := sanitize(path.String())
	if err != nil {
		return nil, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.writeDir == nil {
		return nil, newError(NoWriteDir, "open_write", clean.String())
	}
	rel := strings.TrimPrefix(clean.String(), "/")
	var s Stream
	if appendMode {
		s, err = fs.writeDir.archive.OpenAppend(rel)
	} else {
		s, err = fs.writeDir.archive.OpenWrite(rel)
	}
	if err != nil {
		return nil, err
	}
	fs.openHandles[fs.writeDir]++
	return newFile(fs, fs.writeDir, s, false), nil
}

// Stat resolves path across the search path.
func (fs *FileSystem) Stat(path Path) (*Stat, error) {
	clean, err := sanitize(path.String())
	if err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for _, m := range fs.searchPath {
		if _, ok := isMountPointAncestor(clean, m.mountPoint); ok {
			return &Stat{IsDir: true, ReadOnly: true, AccessTime: -1}, nil
		}
		rel, err := fs.verifyPath(m, clean, false)
		if err != nil {
			continue
		}
		st, err := m.archive.Stat(rel)
		if err != nil {
			continue
		}
		return st, nil
	}
	return nil, newError(NotFound, "stat", clean.String())
}

// Exists reports whether path resolves to anything.
func (fs *FileSystem) Exists(path Path) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// Mkdir creates path through the write directory.
func (fs *FileSystem) Mkdir(path Path) error {
	clean, err := sanitize(path.String())
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.writeDir == nil {
		return newError(NoWriteDir, "mkdir", clean.String())
	}
	return fs.writeDir.archive.Mkdir(strings.TrimPrefix(clean.String(), "/"))
}

// Remove deletes path through the write directory.
func (fs *FileSystem) Remove(path Path) error {
	clean, err := sanitize(path.String())
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.writeDir == nil {
		return newError(NoWriteDir, "remove", clean.String())
	}
	return fs.writeDir.archive.Remove(strings.TrimPrefix(clean.String(), "/"))
}

// Enumerate lists the direct children of path by merging results
// across every mount whose namespace reaches it, plus synthesized
// mount-point directory entries. Order is not a public contract (see
// DESIGN.md Open Question (c)); callers that need sorted output
// should sort the returned slice themselves.
func (fs *FileSystem) Enumerate(path Path) ([]string, error) {
	clean, err := sanitize(path.String())
	if err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	for _, m := range fs.searchPath {
		if seg, ok := isMountPointAncestor(clean, m.mountPoint); ok {
			add(seg)
			continue
		}
		rel, err := fs.verifyPath(m, clean, true)
		if err != nil {
			continue
		}
		_ = m.archive.Enumerate(rel, func(name string) error {
			add(name)
			return nil
		})
	}

	if len(out) == 0 && !fs.exists(clean) {
		return nil, newError(NotFound, "enumerate", clean.String())
	}
	return out, nil
}

func (fs *FileSystem) exists(path Path) bool {
	for _, m := range fs.searchPath {
		if _, ok := isMountPointAncestor(path, m.mountPoint); ok {
			return true
		}
		if rel, err := fs.verifyPath(m, path, false); err == nil {
			if _, err := m.archive.Stat(rel); err == nil {
				return true
			}
		}
	}
	return false
}

// Close rejects with FilesStillOpen if any handle anywhere in fs
// (including the write directory) is still open; otherwise it closes
// every mount and the write directory, and empties the search path.
func (fs *FileSystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, m := range fs.searchPath {
		if fs.openHandles[m] > 0 {
			return newError(FilesStillOpen, "close", m.dirName)
		}
	}
	if fs.writeDir != nil && fs.openHandles[fs.writeDir] > 0 {
		return newError(FilesStillOpen, "close", fs.writeDir.dirName)
	}

	for _, m := range fs.searchPath {
		_ = m.archive.Close()
	}
	if fs.writeDir != nil {
		_ = fs.writeDir.archive.Close()
	}
	fs.searchPath = nil
	fs.writeDir = nil
	fs.openHandles = make(map[*mountRecord]int)
	return nil
}

func (fs *FileSystem) releaseHandle(m *mountRecord) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.openHandles[m] > 0 {
		fs.openHandles[m]--
	}
}
