package metaphysfs

import (
	"encoding/hex"
	"io"

	"github.com/zeebo/blake3"
)

// Digest opens path for reading through the mount stack and streams
// it through BLAKE3, returning a hex digest. Grounded on
// _examples/bureau-foundation-bureau's use of github.com/zeebo/blake3
// for content-addressed storage hashing, repurposed here for
// mounted-path integrity checks (two mounts that should expose the
// same content can be compared by digest without diffing bytes).
func (fs *FileSystem) Digest(path Path) (string, error) {
	f, err := fs.OpenRead(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", newError(IO, "digest", path.String())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
