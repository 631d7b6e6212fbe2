package metaphysfs

// Stat holds the subset of entry metadata surfaced by the backend
// Stat operation.
type Stat struct {
	FileSize   int64
	IsDir      bool
	IsSymlink  bool
	ReadOnly   bool
	AccessTime int64
	ModTime    int64
	CreateTime int64
}

// UnpackedArchive is the generic archive implementation every
// uncompressed, contiguous-content format (GRP, MVL, QPAK, CPIO)
// layers on top of. It wraps a DirTree over a parent Stream and
// implements the Archive contract by delegation, grounded on
// physfs_unpk.hpp / physfs_archiver_unpacked.cpp. Format packages
// build one of these during their OpenArchive and populate it with
// AddEntry calls while parsing their directory table.
type UnpackedArchive struct {
	tree   *DirTree
	parent Stream
}

// OpenUnpackedArchive constructs the shared archive wrapper used by
// every format that stores entries uncompressed and contiguous on
// top of a parent stream. caseSensitive/onlyUSAscii are forwarded
// straight to the DirTree's hash function.
func OpenUnpackedArchive(parent Stream, caseSensitive, onlyUSAscii bool) *UnpackedArchive {
	return &UnpackedArchive{
		tree:   NewDirTree(caseSensitive, onlyUSAscii),
		parent: parent,
	}
}

// AddEntry registers a file, directory, or symlink discovered by a
// format adapter's header parse. startPos/size are ignored for
// directories, matching UNPK_addEntry.
func (a *UnpackedArchive) AddEntry(name string, isDir, isSymlink bool, startPos, size int64) error {
	h, err := a.tree.Add(name, isDir)
	if err != nil {
		return err
	}
	e := a.tree.entry(h)
	e.IsSymlink = isSymlink
	if !isDir {
		e.StartPos = startPos
		e.Size = size
	}
	return nil
}

// Abandon disowns the parent stream without destroying it, used by
// adapters that must bail out of a failed header parse without
// destroying a caller-owned stream.
func (a *UnpackedArchive) Abandon() {
	a.parent = nil
}

func (a *UnpackedArchive) Close() error {
	if a.parent == nil {
		return nil
	}
	return a.parent.Destroy()
}

// OpenRead builds a byte-range stream over a duplicate of the parent,
// clamped to the entry's [StartPos, StartPos+Size) range.
func (a *UnpackedArchive) OpenRead(path string) (Stream, error) {
	h := a.tree.Find(path)
	if h == noEntry {
		return nil, newError(NotFound, "open", path)
	}
	e := a.tree.entry(h)
	if e.IsDir {
		return nil, newError(NotAFile, "open", path)
	}
	dup, err := a.parent.Duplicate()
	if err != nil {
		return nil, err
	}
	if err := dup.Seek(e.StartPos); err != nil {
		return nil, err
	}
	return NewByteRangeStream(dup, e.StartPos, e.Size), nil
}

func (a *UnpackedArchive) OpenWrite(string) (Stream, error) {
	return nil, newError(ReadOnly, "open", "")
}

func (a *UnpackedArchive) OpenAppend(string) (Stream, error) {
	return nil, newError(ReadOnly, "open", "")
}

func (a *UnpackedArchive) Remove(string) error {
	return newError(ReadOnly, "remove", "")
}

func (a *UnpackedArchive) Mkdir(string) error {
	return newError(ReadOnly, "mkdir", "")
}

func (a *UnpackedArchive) Stat(path string) (*Stat, error) {
	h := a.tree.Find(path)
	if h == noEntry {
		return nil, newError(NotFound, "stat", path)
	}
	e := a.tree.entry(h)
	size := e.Size
	if e.IsDir {
		size = 0
	}
	return &Stat{
		FileSize:   size,
		IsDir:      e.IsDir,
		IsSymlink:  e.IsSymlink,
		ReadOnly:   true,
		AccessTime: -1,
		ModTime:    e.MTime,
		CreateTime: e.CTime,
	}, nil
}

func (a *UnpackedArchive) Enumerate(path string, cb EnumerateCallback) error {
	return a.tree.Enumerate(path, cb)
}
