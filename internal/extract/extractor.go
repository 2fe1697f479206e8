package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/BadgerOps/libsync/internal/safety"
)

const (
	// DefaultBufferSize is used when the source reports no available bytes.
	DefaultBufferSize = 1024
	// MaxBufferSize caps the buffer for very large members.
	MaxBufferSize = 1 << 20

	// FileMode is applied to every extracted library.
	FileMode os.FileMode = 0o755
)

// CopyError reports a failed extraction of one member. Nothing is left under
// the destination name when it is returned.
type CopyError struct {
	Op   string // "resolve", "open", "create", "read", "write", "commit"
	Name string // archive entry name
	Dest string // intended destination path
	Err  error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy %s to %s: %s: %v", e.Name, e.Dest, e.Op, e.Err)
}

func (e *CopyError) Unwrap() error {
	return e.Err
}

// Output describes a committed destination file.
type Output struct {
	Path   string
	Size   int64
	SHA256 string
}

// Extractor streams archive members into a destination directory.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an extractor with the given logger.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// BufferSize picks the read buffer size from the number of bytes the source
// reports as available: that count when positive, DefaultBufferSize
// otherwise, never more than MaxBufferSize.
func BufferSize(available int64) int {
	switch {
	case available <= 0:
		return DefaultBufferSize
	case available > MaxBufferSize:
		return MaxBufferSize
	default:
		return int(available)
	}
}

// Extract copies src into destDir/fileName, overwriting any existing file.
//
// Chunks of up to BufferSize(available) bytes are written as soon as they are
// read. The data lands in a temporary file in destDir which is synced and
// renamed over the destination only after the whole stream was copied, so a
// failure never leaves a partial file under the final name. destDir must be
// non-empty. Failures are returned as *CopyError. src is not closed.
func (x *Extractor) Extract(src io.Reader, available int64, destDir, fileName string) (*Output, error) {
	destPath, err := safety.JoinFileName(destDir, fileName)
	if err != nil {
		return nil, &CopyError{Op: "resolve", Name: fileName, Dest: destDir, Err: err}
	}
	fail := func(op string, err error) (*Output, error) {
		return nil, &CopyError{Op: op, Name: fileName, Dest: destPath, Err: err}
	}

	tmp, err := os.CreateTemp(destDir, "."+fileName+".*.tmp")
	if err != nil {
		return fail("create", err)
	}
	tmpPath := tmp.Name()

	// Track whether we need to clean up the temp file
	cleanupNeeded := true
	closed := false
	defer func() {
		if !closed {
			tmp.Close()
		}
		if cleanupNeeded {
			if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
				x.logger.Warn("failed to remove temp file", "path", tmpPath, "error", err)
			}
		}
	}()

	h := sha256.New()
	buf := make([]byte, BufferSize(available))
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				return fail("write", err)
			}
			h.Write(buf[:n])
			written += int64(n)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return fail("read", readErr)
		}
	}

	if err := tmp.Sync(); err != nil {
		return fail("commit", fmt.Errorf("sync: %w", err))
	}
	closed = true
	if err := tmp.Close(); err != nil {
		return fail("commit", fmt.Errorf("close: %w", err))
	}
	if err := os.Chmod(tmpPath, FileMode); err != nil {
		return fail("commit", fmt.Errorf("chmod: %w", err))
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fail("commit", fmt.Errorf("rename: %w", err))
	}
	cleanupNeeded = false

	return &Output{
		Path:   destPath,
		Size:   written,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}
