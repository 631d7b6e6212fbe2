// metaphysfs-test is a small command-line harness for exercising a
// mount stack: mount one or more archives/directories, then list,
// read, stat, digest, or FUSE-export the resulting virtual tree.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	metaphysfs "github.com/Epixu/metaphysfs"
	"github.com/Epixu/metaphysfs/formats/cpio"
	"github.com/Epixu/metaphysfs/formats/grp"
	"github.com/Epixu/metaphysfs/formats/mvl"
	"github.com/Epixu/metaphysfs/formats/pbo"
	"github.com/Epixu/metaphysfs/formats/qpak"
	"github.com/Epixu/metaphysfs/formats/zip"
	"github.com/Epixu/metaphysfs/fuseview"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	metaphysfs.RegisterBackend(grp.Backend())
	metaphysfs.RegisterBackend(mvl.Backend())
	metaphysfs.RegisterBackend(qpak.Backend())
	metaphysfs.RegisterBackend(zip.Backend())
	metaphysfs.RegisterBackend(cpio.Backend())
	metaphysfs.RegisterBackend(pbo.Backend())
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("missing subcommand")
	}

	subcommand := os.Args[1]
	rest := os.Args[2:]

	var mounts []string
	flagSet := pflag.NewFlagSet(subcommand, pflag.ContinueOnError)
	flagSet.StringArrayVar(&mounts, "mount", nil, "source[:mountpoint] to mount before running the command, repeatable")
	if err := flagSet.Parse(rest); err != nil {
		return err
	}
	args := flagSet.Args()

	if err := metaphysfs.Init(os.Args[0]); err != nil {
		return err
	}
	defer metaphysfs.Deinit()

	fs := metaphysfs.New()
	for _, m := range mounts {
		source, point := m, "/"
		if idx := strings.Index(m, ":"); idx >= 0 {
			source, point = m[:idx], m[idx+1:]
		}
		if err := fs.Mount(source, metaphysfs.Path(point), true); err != nil {
			return fmt.Errorf("mounting %s: %w", source, err)
		}
	}

	switch subcommand {
	case "ls":
		return cmdLs(fs, args)
	case "cat":
		return cmdCat(fs, args)
	case "stat":
		return cmdStat(fs, args)
	case "digest":
		return cmdDigest(fs, args)
	case "fuse":
		return cmdFuse(fs, args)
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand %q", subcommand)
	}
}

func cmdLs(fs *metaphysfs.FileSystem, args []string) error {
	path := "/"
	if len(args) > 0 {
		path = args[0]
	}
	names, err := fs.Enumerate(metaphysfs.Path(path))
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func cmdCat(fs *metaphysfs.FileSystem, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("cat requires a path")
	}
	f, err := fs.OpenRead(metaphysfs.Path(args[0]))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, f)
	return err
}

func cmdStat(fs *metaphysfs.FileSystem, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("stat requires a path")
	}
	st, err := fs.Stat(metaphysfs.Path(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("size=%d dir=%v symlink=%v readonly=%v mtime=%d\n",
		st.FileSize, st.IsDir, st.IsSymlink, st.ReadOnly, st.ModTime)
	return nil
}

func cmdDigest(fs *metaphysfs.FileSystem, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("digest requires a path")
	}
	sum, err := fs.Digest(metaphysfs.Path(args[0]))
	if err != nil {
		return err
	}
	fmt.Println(sum)
	return nil
}

func cmdFuse(fs *metaphysfs.FileSystem, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("fuse requires a mountpoint directory")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	server, err := fuseview.Mount(fuseview.Options{
		Mountpoint: args[0],
		FS:         fs,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	server.Wait()
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `metaphysfs-test — exercise a mount stack from the command line

Usage:
  metaphysfs-test <subcommand> --mount source[:point] [--mount ...] [args]

Subcommands:
  ls <path>       list directory entries
  cat <path>      write file contents to stdout
  stat <path>     print metadata for a path
  digest <path>   print the BLAKE3 digest of a file
  fuse <dir>      export the mount stack read-only via FUSE at dir

Examples:
  metaphysfs-test ls --mount data.pak:/ /
  metaphysfs-test cat --mount data.pak:/ --mount patch.zip:/ /readme.txt
  metaphysfs-test fuse --mount ./assets:/ /tmp/view
`)
}
