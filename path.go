package metaphysfs

import "strings"

// A Path is a `/`-delimited virtual path. It may or may not carry a
// leading slash (sanitize returns one without, mount points are stored
// with one); String renders the canonical form with exactly one.
//
// Design decisions
//
//   - It is a string, not a []string of segments: the common case is
//     a short filename, and splitting on every access trades
//     allocations for a method call we'd need anyway to get a
//     canonical string back out.
type Path string

// StartsWith tests whether the path begins with prefix.
func (p Path) StartsWith(prefix Path) bool {
	return strings.HasPrefix(string(p), string(prefix))
}

// Names splits the path by / and returns all non-empty segments.
func (p Path) Names() []string {
	tmp := strings.Split(string(p), "/")
	cleaned := make([]string, 0, len(tmp))
	for _, str := range tmp {
		if str != "" {
			cleaned = append(cleaned, str)
		}
	}
	return cleaned
}

// NameCount returns how many segments this path has.
func (p Path) NameCount() int {
	return len(p.Names())
}

// Name returns the last segment of the path, or "" if empty.
func (p Path) Name() string {
	tmp := p.Names()
	if len(tmp) == 0 {
		return ""
	}
	return tmp[len(tmp)-1]
}

// Parent returns the parent path of this path.
func (p Path) Parent() Path {
	tmp := p.Names()
	if len(tmp) == 0 {
		return ""
	}
	return Path(strings.Join(tmp[:len(tmp)-1], "/"))
}

// String normalizes the path: single leading slash, no trailing
// slash (except the root, which renders as "/").
func (p Path) String() string {
	names := p.Names()
	if len(names) == 0 {
		return "/"
	}
	return "/" + strings.Join(names, "/")
}

// Child returns a new Path with name appended as a child.
func (p Path) Child(name string) Path {
	return Path(p.String() + "/" + name)
}

// TrimPrefix returns the path with prefix removed from the front. The
// result always starts with "/".
func (p Path) TrimPrefix(prefix Path) Path {
	if prefix == "" || prefix == "/" {
		return Path(p.String())
	}
	return Path("/" + strings.TrimPrefix(p.String(), prefix.String()))
}

// sanitize cleans a raw user-supplied path: reject backslash and
// colon, reject "." and ".." segments, collapse repeated slashes,
// strip leading and trailing slashes. It never touches the
// filesystem.
func sanitize(raw string) (Path, error) {
	if strings.ContainsAny(raw, "\\:") {
		return "", newError(BadFilename, "sanitize", raw)
	}
	parts := strings.Split(raw, "/")
	clean := make([]string, 0, len(parts))
	for _, seg := range parts {
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." {
			return "", newError(BadFilename, "sanitize", raw)
		}
		clean = append(clean, seg)
	}
	return Path(strings.Join(clean, "/")), nil
}
