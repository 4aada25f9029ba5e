package fetcher

import (
	"archive/zip"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// zipMember closes both the entry and the archive.
type zipMember struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (z *zipMember) Close() error {
	err := z.ReadCloser.Close()
	if aErr := z.archive.Close(); aErr != nil && err == nil {
		err = aErr
	}
	return err
}

// OpenZIPMember opens the single file in a ZIP archive whose name ends with ext
// (case-insensitive). Directories and macOS resource forks are ignored.
func OpenZIPMember(zipPath, ext string) (io.ReadCloser, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	var matches []*zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		if strings.HasSuffix(strings.ToLower(f.Name), strings.ToLower(ext)) {
			matches = append(matches, f)
		}
	}

	if len(matches) != 1 {
		r.Close() //nolint:errcheck
		return nil, eris.Errorf("zip: expected exactly 1 %s file, got %d", ext, len(matches))
	}

	rc, err := matches[0].Open()
	if err != nil {
		r.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "zip: open entry")
	}
	return &zipMember{ReadCloser: rc, archive: r}, nil
}
