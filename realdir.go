package metaphysfs

import (
	"os"
	"path/filepath"
)

// dirArchive backs a mount whose source is a real on-disk directory
// rather than a container format. Grounded on
// physfs_archiver_dir.cpp: it holds nothing but the absolute prefix
// path and converts every virtual path to a native one before
// delegating straight to the OS.
type dirArchive struct {
	prefix string
}

func (a *dirArchive) native(path string) string {
	return filepath.Join(a.prefix, filepath.FromSlash(path))
}

func (a *dirArchive) OpenRead(path string) (Stream, error) {
	return openNativeStream(a.native(path), modeRead)
}

func (a *dirArchive) OpenWrite(path string) (Stream, error) {
	native := a.native(path)
	if err := os.MkdirAll(filepath.Dir(native), 0o755); err != nil {
		return nil, newError(IO, "open_write", path)
	}
	return openNativeStream(native, modeWrite)
}

func (a *dirArchive) OpenAppend(path string) (Stream, error) {
	native := a.native(path)
	if err := os.MkdirAll(filepath.Dir(native), 0o755); err != nil {
		return nil, newError(IO, "open_append", path)
	}
	return openNativeStream(native, modeAppend)
}

func (a *dirArchive) Remove(path string) error {
	if err := os.Remove(a.native(path)); err != nil {
		if os.IsNotExist(err) {
			return newError(NotFound, "remove", path)
		}
		return newError(IO, "remove", path)
	}
	return nil
}

func (a *dirArchive) Mkdir(path string) error {
	if err := os.MkdirAll(a.native(path), 0o755); err != nil {
		return newError(IO, "mkdir", path)
	}
	return nil
}

func (a *dirArchive) Stat(path string) (*Stat, error) {
	fi, err := os.Lstat(a.native(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(NotFound, "stat", path)
		}
		return nil, newError(IO, "stat", path)
	}
	return &Stat{
		FileSize:   fi.Size(),
		IsDir:      fi.IsDir(),
		IsSymlink:  fi.Mode()&os.ModeSymlink != 0,
		ReadOnly:   fi.Mode().Perm()&0o200 == 0,
		ModTime:    fi.ModTime().Unix(),
		AccessTime: -1,
	}, nil
}

func (a *dirArchive) Enumerate(path string, cb EnumerateCallback) error {
	entries, err := os.ReadDir(a.native(path))
	if err != nil {
		if os.IsNotExist(err) {
			return newError(NotFound, "enumerate", path)
		}
		return newError(IO, "enumerate", path)
	}
	for _, e := range entries {
		if err := cb(e.Name()); err != nil {
			if err == ErrStopEnumeration {
				return nil
			}
			return newError(AppCallback, "enumerate", path)
		}
	}
	return nil
}

func (a *dirArchive) Close() error { return nil }

// dirBackend is the always-registered backend for real directories;
// it is not part of the registry consulted by extension match (it has
// no extension) and is tried explicitly by Mount before any
// registered archive backend: if the source is a directory, the
// real-directory backend claims it first.
type dirBackend struct{}

func (dirBackend) Info() BackendInfo {
	return BackendInfo{
		Description:      "Non-archive, direct filesystem I/O",
		Author:           "metaphysfs",
		SupportsSymlinks: true,
	}
}

func (dirBackend) OpenArchive(_ Stream, name string, _ bool) (Archive, error) {
	fi, err := os.Stat(name)
	if err != nil || !fi.IsDir() {
		return nil, errUnclaimed
	}
	return &dirArchive{prefix: name}, nil
}
