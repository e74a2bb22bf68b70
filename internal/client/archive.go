package client

import (
	"archive/tar"
	"bytes"
	"fmt"
	"sort"
	"time"
)

// TarArchive packs the given files into an in-memory tar stream suitable for
// CopyTo. Entry names are relative to the extraction directory, entries are
// emitted in sorted order with a fixed modtime so identical inputs produce
// identical archives.
func TarArchive(files map[string][]byte) (*bytes.Reader, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range names {
		data := files[name]
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: time.Unix(0, 0),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("failed to write tar header for %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write tar entry %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize tar archive: %w", err)
	}
	return bytes.NewReader(buf.Bytes()), nil
}
