// Package storage provides the filesystem primitives the reconciler and the
// migration controller build on: atomic single-file writes, staged multi-file
// commits, metadata-preserving tree copies, manifest verification, and
// free-space checks.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// stagePrefix marks temp files created while staging. Sweeps key off it, so
// it must never collide with a real variant or config filename.
const stagePrefix = ".stage-"

// WriteFileAtomic writes data to path via a temp file in the same directory
// followed by a rename, so a reader can never observe a truncated file under
// the final name.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, stagePrefix+filepath.Base(path)+"-")
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if err := writeAndClose(tmp, data, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to stage %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}
	return nil
}

func writeAndClose(f *os.File, data []byte, perm os.FileMode) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type stagedFile struct {
	tmpPath string
	name    string
}

// Stager writes a set of files into one directory in two phases: every file
// is first staged to a temp name, and only when all of them staged cleanly
// are they renamed into place. A failure while staging leaves the previous
// complete set untouched.
type Stager struct {
	dir    string
	staged []stagedFile
}

// NewStager creates a stager for dir.
func NewStager(dir string) *Stager {
	return &Stager{dir: dir}
}

// Stage writes one file's content to a temp name inside the target
// directory. Call Commit after every file staged without error.
func (s *Stager) Stage(name string, data []byte, perm os.FileMode) error {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) {
		return fmt.Errorf("invalid staged filename %q", name)
	}
	tmp, err := os.CreateTemp(s.dir, stagePrefix+name+"-")
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", name, err)
	}
	if err := writeAndClose(tmp, data, perm); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to stage %s: %w", name, err)
	}
	s.staged = append(s.staged, stagedFile{tmpPath: tmp.Name(), name: name})
	return nil
}

// Commit renames every staged file into place, one atomic rename per file,
// and returns how many landed. On a rename error the remaining temps are
// removed; files already renamed stay (each is individually complete).
func (s *Stager) Commit() (int, error) {
	for i, f := range s.staged {
		if err := os.Rename(f.tmpPath, filepath.Join(s.dir, f.name)); err != nil {
			for _, rest := range s.staged[i:] {
				os.Remove(rest.tmpPath)
			}
			renamed := i
			s.staged = nil
			return renamed, fmt.Errorf("failed to commit %s: %w", f.name, err)
		}
	}
	n := len(s.staged)
	s.staged = nil
	return n, nil
}

// Abort removes every staged temp file that has not been committed.
func (s *Stager) Abort() {
	for _, f := range s.staged {
		os.Remove(f.tmpPath)
	}
	s.staged = nil
}

// SweepStaged removes leftover staged temp files in dir, typically debris
// from a run that crashed between staging and commit. Returns how many were
// removed.
func SweepStaged(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep %s: %w", dir, err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), stagePrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to sweep %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
