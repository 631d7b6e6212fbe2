package metaphysfs

import (
	"os"
	"path/filepath"
	"sync"
)

var (
	initMu      sync.Mutex
	initialized bool
)

// Init performs process-wide startup, grounded on PHYSFS_init in
// the PhysicsFS C library's physfs.cpp. It validates argv0 and marks
// the package initialized, as reported by IsInit; it computes no
// directories and registers no backends. Unlike that C API this
// package has no global mount state to initialize — that lives on a
// *FileSystem value instead — and the base/user/pref dir helpers below
// compute their result on every call whether or not Init has run.
func Init(argv0 string) error {
	initMu.Lock()
	defer initMu.Unlock()
	if initialized {
		return newError(IsInitialized, "init", "")
	}
	if argv0 == "" {
		return newError(Argv0IsNull, "init", "")
	}
	initialized = true
	return nil
}

// Deinit reverses Init. The FILES_STILL_OPEN-gated close of mounts and
// backends lives on FileSystem.Close, since this redesign tracks open
// handles per *FileSystem rather than in one process-wide singleton;
// callers that built one or more FileSystem values must Close each of
// them (propagating FilesStillOpen if it fails) before calling Deinit.
func Deinit() error {
	initMu.Lock()
	defer initMu.Unlock()
	initialized = false
	return nil
}

// IsInit reports whether Init has been called without a matching
// Deinit.
func IsInit() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initialized
}

// GetBaseDir returns the directory containing the running executable,
// the Go-idiomatic stand-in for the platform base-dir computation in
// PHYSFS_init (argv0 resolution, symlink following, dirname).
func GetBaseDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", newError(OSError, "get_base_dir", "")
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		resolved = exe
	}
	return filepath.Dir(resolved), nil
}

// GetUserDir returns the current user's home directory.
func GetUserDir() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", newError(OSError, "get_user_dir", "")
	}
	return dir, nil
}

// GetPrefDir returns (creating if necessary) a per-application
// preferences directory under the platform's standard config
// location, org/app matching PHYSFS_getPrefDir(org, app).
func GetPrefDir(org, app string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", newError(OSError, "get_pref_dir", "")
	}
	dir := filepath.Join(base, org, app)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", newError(IO, "get_pref_dir", dir)
	}
	return dir, nil
}
