package archive

import (
	"iter"
	"strings"

	"github.com/BadgerOps/libsync/internal/arch"
)

// LibrarySuffix is the file name suffix of native shared libraries.
const LibrarySuffix = ".so"

// IsCandidate reports whether e is a native library for tag: a regular
// member whose name ends in LibrarySuffix and contains the tag token.
// The token match is case-sensitive.
func IsCandidate(e *Entry, tag arch.Tag) bool {
	if e == nil || e.IsDir {
		return false
	}
	return strings.HasSuffix(e.Name, LibrarySuffix) && strings.Contains(e.Name, tag.Token())
}

// Select yields the candidates among entries in their original order.
func Select(entries []*Entry, tag arch.Tag) iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		for _, e := range entries {
			if !IsCandidate(e, tag) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}
