// Package zip builds downloadable archives from job media.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
)

// Entry is one file in the archive. The body is read exactly once while the
// archive is written, so callers can hand over streams without buffering
// whole assets in memory.
type Entry struct {
	Name string
	Body io.Reader
}

// Write streams the entries into w as a zip archive. Media payloads are
// already compressed, so entries are stored rather than deflated.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, entry := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:   entry.Name,
			Method: zip.Store,
		})
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", entry.Name, err)
		}
		if _, err := io.Copy(fw, entry.Body); err != nil {
			return fmt.Errorf("zip: write %s: %w", entry.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zip: finalize archive: %w", err)
	}
	return nil
}
