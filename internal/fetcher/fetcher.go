// Package fetcher opens raw transaction sources: local files, HTTP(S) and FTP
// downloads, optionally zip-compressed, and streams their CSV rows.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads a remote object.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures Open.
type Options struct {
	HTTP    HTTPOptions
	FTP     FTPOptions
	TempDir string // where zip archives are staged; defaults to os.TempDir()
}

// Open returns a reader over the CSV content named by source. Supported forms are
// a local path, an http(s):// URL and an ftp:// URL. A ".zip" source is staged
// locally and its single CSV member is returned.
func Open(ctx context.Context, source string, opts Options) (io.ReadCloser, error) {
	var f Fetcher
	switch scheme := sourceScheme(source); scheme {
	case "":
		return openLocal(source)
	case "http", "https":
		f = NewHTTPFetcher(opts.HTTP)
	case "ftp":
		f = NewFTPFetcher(opts.FTP)
	default:
		return nil, eris.Errorf("fetcher: unsupported source scheme %q", scheme)
	}

	start := time.Now()
	body, err := f.Download(ctx, source)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: download %s", source)
	}
	zap.L().Info("fetcher: source opened",
		zap.String("source", source),
		zap.Duration("elapsed", time.Since(start)),
	)

	if !isZIP(source) {
		return body, nil
	}

	// zip needs random access, so the archive is staged on disk first.
	defer body.Close() //nolint:errcheck
	tmp, err := os.CreateTemp(opts.TempDir, "fraud-source-*.zip")
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create staging file")
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return nil, eris.Wrap(err, "fetcher: stage archive")
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "fetcher: close staging file")
	}

	rc, err := OpenZIPMember(tmp.Name(), ".csv")
	if err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return nil, err
	}
	return &removeOnClose{ReadCloser: rc, path: tmp.Name()}, nil
}

func openLocal(path string) (io.ReadCloser, error) {
	if isZIP(path) {
		return OpenZIPMember(path, ".csv")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	return f, nil
}

// sourceScheme returns the lower-case URL scheme, or "" for local paths.
func sourceScheme(source string) string {
	u, err := url.Parse(source)
	if err != nil || len(u.Scheme) <= 1 {
		// Single letters are Windows drive names, not schemes.
		return ""
	}
	if u.Scheme == "file" {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func isZIP(source string) bool {
	if u, err := url.Parse(source); err == nil && u.Path != "" {
		source = u.Path
	}
	return strings.EqualFold(filepath.Ext(source), ".zip")
}

// removeOnClose deletes a staged file once the reader is closed.
type removeOnClose struct {
	io.ReadCloser
	path string
}

func (r *removeOnClose) Close() error {
	err := r.ReadCloser.Close()
	if rmErr := os.Remove(r.path); rmErr != nil && err == nil {
		err = eris.Wrap(rmErr, "fetcher: remove staging file")
	}
	return err
}
