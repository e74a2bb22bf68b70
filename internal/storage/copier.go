package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// CopyStats summarizes one CopyTree run.
type CopyStats struct {
	FilesCopied  int64
	FilesSkipped int64
	BytesCopied  int64
}

// CopyTree copies the tree rooted at src into dst, preserving file modes and
// modification times. Regular files already present at the destination with
// matching size and mtime are skipped, so an interrupted copy resumes instead
// of starting over. Files are copied with bounded parallelism.
func CopyTree(ctx context.Context, src, dst string, concurrency int) (CopyStats, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	type fileEntry struct {
		rel  string
		info fs.FileInfo
	}
	type linkEntry struct {
		rel    string
		target string
	}

	var files []fileEntry
	var links []linkEntry
	var dirs []string

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			if rel != "." {
				if err := os.MkdirAll(filepath.Join(dst, rel), info.Mode().Perm()); err != nil {
					return err
				}
				dirs = append(dirs, rel)
			}
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			links = append(links, linkEntry{rel: rel, target: target})
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			files = append(files, fileEntry{rel: rel, info: info})
		default:
			return fmt.Errorf("unsupported file type at %s", path)
		}
		return nil
	})
	if err != nil {
		return CopyStats{}, fmt.Errorf("failed to walk %s: %w", src, err)
	}

	var copied, skipped, bytes int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			srcPath := filepath.Join(src, f.rel)
			dstPath := filepath.Join(dst, f.rel)

			if existing, err := os.Stat(dstPath); err == nil && fileMatches(f.info, existing) {
				atomic.AddInt64(&skipped, 1)
				return nil
			}
			n, err := copyFile(srcPath, dstPath, f.info)
			if err != nil {
				return err
			}
			atomic.AddInt64(&copied, 1)
			atomic.AddInt64(&bytes, n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CopyStats{}, fmt.Errorf("failed to copy %s: %w", src, err)
	}

	for _, l := range links {
		dstPath := filepath.Join(dst, l.rel)
		if existing, err := os.Readlink(dstPath); err == nil && existing == l.target {
			continue
		}
		os.Remove(dstPath)
		if err := os.Symlink(l.target, dstPath); err != nil {
			return CopyStats{}, fmt.Errorf("failed to recreate symlink %s: %w", l.rel, err)
		}
	}

	// Restore directory mtimes last, deepest first: copying children bumps
	// every parent's mtime.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, rel := range dirs {
		info, err := os.Stat(filepath.Join(src, rel))
		if err != nil {
			return CopyStats{}, err
		}
		if err := os.Chtimes(filepath.Join(dst, rel), info.ModTime(), info.ModTime()); err != nil {
			return CopyStats{}, err
		}
	}

	return CopyStats{FilesCopied: copied, FilesSkipped: skipped, BytesCopied: bytes}, nil
}

func fileMatches(src, dst fs.FileInfo) bool {
	return dst.Mode().IsRegular() &&
		src.Size() == dst.Size() &&
		src.ModTime().Unix() == dst.ModTime().Unix()
}

func copyFile(srcPath, dstPath string, info fs.FileInfo) (int64, error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dstPath, err)
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, fmt.Errorf("failed to copy %s: %w", srcPath, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return n, err
	}
	if err := out.Close(); err != nil {
		return n, err
	}
	if err := os.Chmod(dstPath, info.Mode().Perm()); err != nil {
		return n, err
	}
	if err := os.Chtimes(dstPath, info.ModTime(), info.ModTime()); err != nil {
		return n, err
	}
	return n, nil
}
