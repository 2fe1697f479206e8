package engine

import (
	"fmt"

	"github.com/BadgerOps/libsync/internal/archive"
)

// TimestampStore persists the archive timestamp of every copied entry, keyed
// by entry name. Concurrent SetTimestamp calls for different names must be
// safe.
type TimestampStore interface {
	GetTimestamp(name string) (int64, bool, error)
	SetTimestamp(name string, modified int64) error
}

// ShouldCopy reports whether entry has to be extracted. It is false only
// when store holds a timestamp for the entry name equal to entry.Modified.
// A store read error counts as a missing timestamp.
func ShouldCopy(entry *archive.Entry, store TimestampStore) bool {
	copyEntry, _ := gate(entry, store)
	return copyEntry
}

// gate is ShouldCopy that also hands back the read error for logging.
func gate(entry *archive.Entry, store TimestampStore) (bool, error) {
	stored, ok, err := store.GetTimestamp(entry.Name)
	if err != nil {
		return true, fmt.Errorf("failed to read timestamp for %s: %w", entry.Name, err)
	}
	return !ok || stored != entry.Modified, nil
}
