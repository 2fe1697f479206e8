package store

import "time"

// EntryRecord is the persisted state of one extracted archive member,
// keyed by the member name.
type EntryRecord struct {
	Name      string // archive entry name, the store key
	Modified  int64  // archive timestamp (Unix ms) of the last successful copy
	Archive   string // archive path the copy came from
	DestPath  string
	Size      int64
	SHA256    string
	CopiedAt  time.Time
	SyncRunID int64
}

// SyncRun records one coordinator invocation
type SyncRun struct {
	ID             int64
	Archive        string
	Arch           string
	DestDir        string
	StartTime      time.Time
	EndTime        time.Time
	EntriesCopied  int
	EntriesSkipped int
	EntriesFailed  int
	BytesWritten   int64
	Status         string // "running", "success", "partial", "failed"
	ErrorMessage   string
}

// FailedEntry is a dead letter queue entry for a member that failed to copy
type FailedEntry struct {
	ID           int64
	Archive      string
	EntryName    string
	DestPath     string
	Error        string
	RetryCount   int
	FirstFailure time.Time
	LastFailure  time.Time
	Resolved     bool
}
