package metaphysfs

import (
	"errors"
	"strings"
)

// hashBuckets is the fixed bucket count used by every DirTree,
// matching the original C tree's fixed 64-bucket table.
const hashBuckets = 64

// noEntry is the null handle, the Go equivalent of a nil
// __PHYSFS_DirTreeEntry pointer.
const noEntry uint32 = 0

// Entry is one node of a DirTree. Nodes live in DirTree.entries and
// are referenced by index rather than pointer, which turns the
// C implementation's intrusive hashnext/sibling/children
// pointers into plain uint32s and the move-to-front splice into a
// two-index reassignment.
type Entry struct {
	Name      string
	IsDir     bool
	IsSymlink bool
	StartPos  int64
	Size      int64
	CTime     int64
	MTime     int64

	hashNext uint32
	sibling  uint32
	children uint32
}

// DirTree is a hashed tree of Entry nodes with parent/sibling/children
// links, grounded bit-for-bit on physfs_tree.hpp/.cpp: a fixed bucket
// hash table plus intrusive lists, reimplemented as arena+index.
type DirTree struct {
	entries       []Entry // entries[0] is unused; index 0 means "no entry"
	hash          [hashBuckets]uint32
	caseSensitive bool
	onlyUSAscii   bool
}

// NewDirTree allocates a DirTree with a root entry at path "/".
func NewDirTree(caseSensitive, onlyUSAscii bool) *DirTree {
	dt := &DirTree{
		entries:       make([]Entry, 1, 64),
		caseSensitive: caseSensitive,
		onlyUSAscii:   onlyUSAscii,
	}
	dt.entries = append(dt.entries, Entry{Name: "/", IsDir: true})
	return dt
}

func (dt *DirTree) root() uint32 { return 1 }

func (dt *DirTree) entry(h uint32) *Entry {
	if h == noEntry {
		return nil
	}
	return &dt.entries[h]
}

// djb2Hash is the DJB2 variant used throughout the original tree:
// h <- ((h<<5)+h) XOR c, seeded at 5381. foldCase controls ASCII
// case-folding; the tree never needs full Unicode folding since every
// concrete format adapter in this package is ASCII-named.
func djb2Hash(s string, foldCase bool) uint32 {
	h := uint32(5381)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if foldCase && c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		h = ((h << 5) + h) ^ uint32(c)
	}
	return h
}

func (dt *DirTree) hashOf(name string) uint32 {
	return djb2Hash(name, !dt.caseSensitive) % hashBuckets
}

func (dt *DirTree) nameEqual(a, b string) bool {
	if dt.caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// Find locates the entry for path, applying the move-to-front splice
// on hit to favor temporal locality, matching __PHYSFS_DirTreeFind.
func (dt *DirTree) Find(path string) uint32 {
	if path == "" {
		return dt.root()
	}
	bucket := dt.hashOf(path)
	var prev uint32
	for cur := dt.hash[bucket]; cur != noEntry; {
		e := dt.entry(cur)
		if dt.nameEqual(e.Name, path) {
			if prev != noEntry {
				dt.entry(prev).hashNext = e.hashNext
				e.hashNext = dt.hash[bucket]
				dt.hash[bucket] = cur
			}
			return cur
		}
		prev = cur
		cur = e.hashNext
	}
	return noEntry
}

// addAncestors fills in missing parent directories for name, per
// addAncestors in physfs_tree.cpp.
func (dt *DirTree) addAncestors(name string) (uint32, error) {
	sep := strings.LastIndexByte(name, '/')
	if sep < 0 {
		return dt.root(), nil
	}
	parentPath := name[:sep]
	if h := dt.Find(parentPath); h != noEntry {
		if !dt.entry(h).IsDir {
			return noEntry, newError(Corrupt, "add", name)
		}
		return h, nil
	}
	return dt.Add(parentPath, true)
}

// Add inserts a fresh node for name (an is_dir flag provided by the
// caller), creating any missing ancestor directories first. If name
// is already indexed, returns the existing entry.
func (dt *DirTree) Add(name string, isDir bool) (uint32, error) {
	if h := dt.Find(name); h != noEntry {
		return h, nil
	}
	parent, err := dt.addAncestors(name)
	if err != nil {
		return noEntry, err
	}
	dt.entries = append(dt.entries, Entry{Name: name, IsDir: isDir})
	h := uint32(len(dt.entries) - 1)

	bucket := dt.hashOf(name)
	e := dt.entry(h)
	e.hashNext = dt.hash[bucket]
	dt.hash[bucket] = h

	p := dt.entry(parent)
	e.sibling = p.children
	p.children = h

	return h, nil
}

// EnumerateCallback is invoked once per direct child name, most
// recently added child first, which is the order of the tree's child
// list (see DESIGN.md Open Question (c)). Returning
// ErrStopEnumeration ends iteration early with no error reported to
// the caller; returning any other non-nil error aborts enumeration
// and is reported to the caller wrapped as AppCallback.
type EnumerateCallback func(name string) error

// ErrStopEnumeration is the sentinel an EnumerateCallback returns to
// request early termination without that termination being treated
// as a callback failure, matching PHYSFS_ENUM_STOP's three-way
// OK/STOP/ERROR enumeration contract.
var ErrStopEnumeration = errors.New("metaphysfs: stop enumeration")

// Enumerate locates dirPath and invokes cb for every direct child,
// yielding only the last path segment, matching
// __PHYSFS_DirTreeEnumerate.
func (dt *DirTree) Enumerate(dirPath string, cb EnumerateCallback) error {
	h := dt.Find(dirPath)
	if h == noEntry {
		return newError(NotFound, "enumerate", dirPath)
	}
	for cur := dt.entry(h).children; cur != noEntry; {
		e := dt.entry(cur)
		name := e.Name
		if i := strings.LastIndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
		if err := cb(name); err != nil {
			if err == ErrStopEnumeration {
				return nil
			}
			return newError(AppCallback, "enumerate", dirPath)
		}
		cur = e.sibling
	}
	return nil
}
