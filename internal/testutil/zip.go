// Package testutil builds zip fixtures for tests.
package testutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// MethodXZ mirrors archive.MethodXZ without importing it.
const MethodXZ uint16 = 95

// ZipMember describes one member of a fixture archive.
type ZipMember struct {
	Name     string
	Body     []byte
	Modified time.Time
	// Method defaults to zip.Deflate. zip.Store is zero, so use Stored.
	Method uint16
	Stored bool
}

// WriteZip writes members to dir/name and returns the archive path.
// Names ending in "/" become directory members.
func WriteZip(tb testing.TB, dir, name string, members []ZipMember) string {
	tb.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("failed to create archive: %v", err)
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	zw.RegisterCompressor(MethodXZ, func(w io.Writer) (io.WriteCloser, error) {
		return &lazyXZWriter{w: w}, nil
	})

	for _, m := range members {
		method := m.Method
		switch {
		case m.Stored:
			method = zip.Store
		case method == 0:
			method = zip.Deflate
		}
		modified := m.Modified
		if modified.IsZero() {
			modified = time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC)
		}
		hdr := &zip.FileHeader{
			Name:     m.Name,
			Method:   method,
			Modified: modified,
		}
		if len(m.Name) > 0 && m.Name[len(m.Name)-1] == '/' {
			hdr.Method = zip.Store
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			tb.Fatalf("failed to write header for %s: %v", m.Name, err)
		}
		if len(m.Body) > 0 {
			if _, err := w.Write(m.Body); err != nil {
				tb.Fatalf("failed to write content for %s: %v", m.Name, err)
			}
		}
	}

	if err := zw.Close(); err != nil {
		tb.Fatalf("failed to finish archive: %v", err)
	}
	return path
}

// lazyXZWriter defers the xz stream header until the first write or Close.
// The zip writer builds the compressor before it writes the local file
// header, and xz.NewWriter emits its header immediately.
type lazyXZWriter struct {
	w  io.Writer
	xw *xz.Writer
}

func (l *lazyXZWriter) init() error {
	if l.xw != nil {
		return nil
	}
	xw, err := xz.NewWriter(l.w)
	if err != nil {
		return err
	}
	l.xw = xw
	return nil
}

func (l *lazyXZWriter) Write(p []byte) (int, error) {
	if err := l.init(); err != nil {
		return 0, err
	}
	return l.xw.Write(p)
}

func (l *lazyXZWriter) Close() error {
	if err := l.init(); err != nil {
		return err
	}
	return l.xw.Close()
}

// Seconds returns a UTC time at the given Unix second, which survives the
// zip extended-timestamp round trip exactly.
func Seconds(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
