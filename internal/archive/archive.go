// Package archive gives read-only access to the members of a zip-format
// archive and selects the native libraries that belong to an architecture.
//
// Archives are read with github.com/klauspost/compress/zip. Besides Store and
// Deflate, members compressed with Zstandard (methods 93 and 20) and XZ
// (method 95) are understood.
package archive

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// MethodXZ is the APPNOTE compression method id for XZ.
const MethodXZ uint16 = 95

// OpenError reports that an archive could not be opened or parsed.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open archive %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Archive is an open zip archive. Entries may be read concurrently; each
// Entry.Open returns an independent stream. The archive must outlive every
// stream opened from it.
type Archive struct {
	path    string
	rc      *zip.ReadCloser
	entries []*Entry

	closeOnce sync.Once
	closeErr  error
}

// Entry is a read-only view of one archive member.
type Entry struct {
	// Name is the slash-separated path inside the archive.
	Name string
	// IsDir reports a directory member.
	IsDir bool
	// Modified is the stored modification time in Unix milliseconds.
	Modified int64
	// Size is the uncompressed size in bytes.
	Size int64

	file *zip.File
}

// Open returns a stream of the member's decompressed bytes.
func (e *Entry) Open() (io.ReadCloser, error) {
	if e.file == nil {
		return nil, fmt.Errorf("entry %s has no backing archive", e.Name)
	}
	rc, err := e.file.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", e.Name, err)
	}
	return rc, nil
}

// Open opens the archive at path and enumerates its members once.
// Any failure is returned as *OpenError.
func Open(path string) (*Archive, error) {
	if fi, err := os.Stat(path); err != nil {
		return nil, &OpenError{Path: path, Err: err}
	} else if fi.IsDir() {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("is a directory")}
	}

	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	registerDecompressors(&rc.Reader)

	entries := make([]*Entry, 0, len(rc.File))
	for _, f := range rc.File {
		entries = append(entries, &Entry{
			Name:     f.Name,
			IsDir:    f.FileInfo().IsDir(),
			Modified: f.Modified.UnixMilli(),
			Size:     int64(f.UncompressedSize64),
			file:     f,
		})
	}

	return &Archive{path: path, rc: rc, entries: entries}, nil
}

// Path returns the filesystem path the archive was opened from.
func (a *Archive) Path() string {
	return a.path
}

// Entries returns the members in archive order. The slice must not be modified.
func (a *Archive) Entries() []*Entry {
	return a.entries
}

// Close releases the archive. It is safe to call more than once; only the
// first call closes the underlying file.
func (a *Archive) Close() error {
	a.closeOnce.Do(func() {
		if err := a.rc.Close(); err != nil {
			a.closeErr = fmt.Errorf("failed to close archive %s: %w", a.path, err)
		}
	})
	return a.closeErr
}

func registerDecompressors(r *zip.Reader) {
	zstdDecomp := zstd.ZipDecompressor()
	r.RegisterDecompressor(zstd.ZipMethodWinZip, zstdDecomp)
	r.RegisterDecompressor(zstd.ZipMethodPKWare, zstdDecomp)
	r.RegisterDecompressor(MethodXZ, xzDecompressor)
}

func xzDecompressor(r io.Reader) io.ReadCloser {
	xr, err := xz.NewReader(r)
	if err != nil {
		return io.NopCloser(errReader{fmt.Errorf("creating xz reader: %w", err)})
	}
	return io.NopCloser(xr)
}

type errReader struct {
	err error
}

func (e errReader) Read([]byte) (int, error) {
	return 0, e.err
}
