package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FileDigest identifies one file's content for verification.
type FileDigest struct {
	Size   int64
	SHA256 string
}

// Manifest maps tree-relative paths to their digests. Symlinks are recorded
// by target rather than hashed.
type Manifest map[string]FileDigest

// BuildManifest walks root and hashes every regular file with bounded
// parallelism.
func BuildManifest(ctx context.Context, root string, concurrency int) (Manifest, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	manifest := make(Manifest)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return nil
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			mu.Lock()
			manifest[rel] = FileDigest{SHA256: "symlink:" + target}
			mu.Unlock()
			return nil
		case d.Type().IsRegular():
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				digest, err := hashFile(path)
				if err != nil {
					return err
				}
				mu.Lock()
				manifest[rel] = digest
				mu.Unlock()
				return nil
			})
			return nil
		default:
			return fmt.Errorf("unsupported file type at %s", path)
		}
	})
	if err != nil {
		g.Wait()
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", root, err)
	}
	return manifest, nil
}

// Diff compares m (the source) against other (the destination) and returns
// human-readable mismatches, sorted. An empty result means the trees match.
func (m Manifest) Diff(other Manifest) []string {
	var mismatches []string
	for rel, want := range m {
		got, ok := other[rel]
		switch {
		case !ok:
			mismatches = append(mismatches, fmt.Sprintf("missing in destination: %s", rel))
		case want.Size != got.Size:
			mismatches = append(mismatches, fmt.Sprintf("size mismatch: %s (%d != %d)", rel, want.Size, got.Size))
		case want.SHA256 != got.SHA256:
			mismatches = append(mismatches, fmt.Sprintf("content mismatch: %s", rel))
		}
	}
	for rel := range other {
		if _, ok := m[rel]; !ok {
			mismatches = append(mismatches, fmt.Sprintf("unexpected in destination: %s", rel))
		}
	}
	sort.Strings(mismatches)
	return mismatches
}

func hashFile(path string) (FileDigest, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileDigest{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return FileDigest{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return FileDigest{Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}
