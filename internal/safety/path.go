package safety

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrEmptyRoot is returned when a destination root is the empty string,
// which would otherwise resolve against the working directory.
var ErrEmptyRoot = errors.New("empty root directory")

// EntryBaseName returns the final segment of a slash-separated archive path.
// Backslashes are treated as separators too, since some archivers emit them.
func EntryBaseName(name string) string {
	name = strings.TrimRight(name, "/")
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

// ValidFileName rejects names that cannot be used as a single path element
// directly under a destination directory.
func ValidFileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("file name is empty")
	case name == "." || name == "..":
		return fmt.Errorf("invalid file name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("file name contains a separator: %q", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("file name contains NUL: %q", name)
	}
	return nil
}

// JoinFileName joins a single validated file name under root and verifies
// the result stays inside root.
func JoinFileName(root, name string) (string, error) {
	if root == "" {
		return "", ErrEmptyRoot
	}
	if err := ValidFileName(name); err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, name))
}

// EnsureUnderRoot verifies candidate resolves under root and returns
// an absolute normalized path.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candAbs, nil
}
