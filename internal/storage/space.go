package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// DiskSpaceError reports insufficient free space on the filesystem holding
// Path.
type DiskSpaceError struct {
	Path           string
	RequiredBytes  uint64
	AvailableBytes uint64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %d bytes, %d available",
		e.Path, e.RequiredBytes, e.AvailableBytes)
}

// IsDiskSpaceError reports whether err carries a DiskSpaceError.
func IsDiskSpaceError(err error) bool {
	var dse *DiskSpaceError
	return errors.As(err, &dse)
}

// FreeBytes returns the bytes available to unprivileged users on the
// filesystem containing path.
func FreeBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// EnsureFree returns a DiskSpaceError when the filesystem holding path has
// fewer than required bytes available.
func EnsureFree(path string, required uint64) error {
	available, err := FreeBytes(path)
	if err != nil {
		return err
	}
	if available < required {
		return &DiskSpaceError{Path: path, RequiredBytes: required, AvailableBytes: available}
	}
	return nil
}

// TreeSize returns the total size of all regular files under root.
func TreeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size %s: %w", root, err)
	}
	return total, nil
}

// SameDevice reports whether two paths live on the same filesystem, the
// property that makes a rename between them a metadata operation instead of a
// data copy.
func SameDevice(a, b string) (bool, error) {
	devA, err := deviceOf(a)
	if err != nil {
		return false, err
	}
	devB, err := deviceOf(b)
	if err != nil {
		return false, err
	}
	return devA == devB, nil
}

func deviceOf(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("no device information for %s", path)
	}
	return uint64(sys.Dev), nil
}
