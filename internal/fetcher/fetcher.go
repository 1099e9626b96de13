// Package fetcher retrieves source dumps over HTTP, FTP or the local
// filesystem and decodes the JSON, XML, CSV and XLSX shapes studio feeds
// ship in.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher retrieves a source location.
type Fetcher interface {
	// Download returns the body at location. The caller closes it.
	Download(ctx context.Context, location string) (io.ReadCloser, error)
	// Probe checks that location is reachable without transferring it.
	Probe(ctx context.Context, location string) error
}

// Mux dispatches on the location scheme: http and https go to the HTTP
// fetcher, ftp to the FTP fetcher, and file or bare paths are opened
// locally.
type Mux struct {
	http *HTTPFetcher
	ftp  *FTPFetcher
}

// NewMux creates a scheme dispatcher. Nil fetchers get defaults.
func NewMux(h *HTTPFetcher, f *FTPFetcher) *Mux {
	if h == nil {
		h = NewHTTPFetcher(HTTPOptions{})
	}
	if f == nil {
		f = NewFTPFetcher(FTPOptions{})
	}
	return &Mux{http: h, ftp: f}
}

// Scheme returns the lower-cased scheme of location, or "file" for paths.
func Scheme(location string) string {
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) <= 1 {
		// Single letters are Windows drive names.
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

// LocalPath strips a file:// prefix.
func LocalPath(location string) string {
	if strings.HasPrefix(location, "file://") {
		return strings.TrimPrefix(location, "file://")
	}
	return location
}

// Download fetches location with the fetcher its scheme selects.
func (m *Mux) Download(ctx context.Context, location string) (io.ReadCloser, error) {
	switch s := Scheme(location); s {
	case "http", "https":
		return m.http.Download(ctx, location)
	case "ftp":
		return m.ftp.Download(ctx, location)
	case "file":
		f, err := os.Open(LocalPath(location))
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: open %s", location)
		}
		return f, nil
	default:
		return nil, eris.Errorf("fetch: unsupported scheme %q in %s", s, location)
	}
}

// Probe checks location with the fetcher its scheme selects.
func (m *Mux) Probe(ctx context.Context, location string) error {
	switch s := Scheme(location); s {
	case "http", "https":
		return m.http.Probe(ctx, location)
	case "ftp":
		return m.ftp.Probe(ctx, location)
	case "file":
		if _, err := os.Stat(LocalPath(location)); err != nil {
			return eris.Wrapf(err, "fetch: stat %s", location)
		}
		return nil
	default:
		return eris.Errorf("fetch: unsupported scheme %q in %s", s, location)
	}
}

// Localize returns a filesystem path holding the content at location,
// downloading remote locations into dir. cleanup removes any download.
func (m *Mux) Localize(ctx context.Context, location, dir string) (path string, cleanup func(), err error) {
	if Scheme(location) == "file" {
		return LocalPath(location), func() {}, nil
	}

	body, err := m.Download(ctx, location)
	if err != nil {
		return "", nil, err
	}
	defer body.Close() //nolint:errcheck

	ext := filepath.Ext(location)
	if u, perr := url.Parse(location); perr == nil {
		ext = filepath.Ext(u.Path)
	}
	f, err := os.CreateTemp(dir, "source-*"+ext)
	if err != nil {
		return "", nil, eris.Wrap(err, "fetch: create temp file")
	}
	cleanup = func() { _ = os.Remove(f.Name()) }

	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, eris.Wrapf(err, "fetch: write %s", f.Name())
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, eris.Wrapf(err, "fetch: close %s", f.Name())
	}
	return f.Name(), cleanup, nil
}
