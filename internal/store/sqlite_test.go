package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err, "failed to create test store")
	t.Cleanup(func() { s.Close() })
	return s
}

// ============================================================================
// Store Lifecycle Tests
// ============================================================================

func TestNew(t *testing.T) {
	store, err := New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	defer store.Close()

	assert.NotNil(t, store.db, "Expected db to be initialized")
	assert.NotNil(t, store.logger, "Expected logger to be initialized")
}

func TestNewNilLogger(t *testing.T) {
	store, err := New(":memory:", nil)
	require.NoError(t, err)
	defer store.Close()

	assert.NotNil(t, store.logger, "Expected default logger when nil is passed")
}

func TestClose(t *testing.T) {
	store, err := New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)

	require.NoError(t, store.Close())

	// Verify the connection is closed by trying to use it
	_, _, err = store.GetTimestamp("lib/armeabi/libfoo.so")
	assert.Error(t, err, "Expected error when using closed store")
}

// TestTimestampsSurviveReopen verifies that persisted timestamps survive a process restart
func TestTimestampsSurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "libsync.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	first, err := New(dbPath, logger)
	require.NoError(t, err)
	require.NoError(t, first.SetTimestamp("lib/armeabi/libfoo.so", 100))
	require.NoError(t, first.Close())

	second, err := New(dbPath, logger)
	require.NoError(t, err, "reopen failed")
	defer second.Close()

	got, ok, err := second.GetTimestamp("lib/armeabi/libfoo.so")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(100), got)
}

// ============================================================================
// Timestamp Tests
// ============================================================================

func TestGetTimestampAbsent(t *testing.T) {
	store := newTestStore(t)

	got, ok, err := store.GetTimestamp("lib/x86/libbar.so")
	require.NoError(t, err)
	assert.False(t, ok, "expected absent entry, got %d", got)
}

func TestSetTimestampOverwrites(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetTimestamp("lib/armeabi/libfoo.so", 100))
	require.NoError(t, store.SetTimestamp("lib/armeabi/libfoo.so", 200))

	got, ok, err := store.GetTimestamp("lib/armeabi/libfoo.so")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(200), got)

	count, err := store.CountEntryRecords()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestSetTimestampConcurrent verifies concurrent writes to different keys do not lose updates
func TestSetTimestampConcurrent(t *testing.T) {
	store := newTestStore(t)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.SetTimestamp(fmt.Sprintf("lib/armeabi/lib%02d.so", i), int64(i))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		got, ok, err := store.GetTimestamp(fmt.Sprintf("lib/armeabi/lib%02d.so", i))
		require.NoError(t, err)
		assert.True(t, ok, "entry %d missing", i)
		assert.Equal(t, int64(i), got)
	}
}

// ============================================================================
// EntryRecord Tests
// ============================================================================

func TestAnnotateEntry(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetTimestamp("lib/armeabi/libfoo.so", 100))

	rec := &EntryRecord{
		Name:      "lib/armeabi/libfoo.so",
		Archive:   "/plugins/foo.apk",
		DestPath:  "/data/lib/libfoo.so",
		Size:      4096,
		SHA256:    "abc123",
		SyncRunID: 7,
	}
	require.NoError(t, store.AnnotateEntry(rec))

	got, err := store.GetEntryRecord("lib/armeabi/libfoo.so")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Modified, "annotation must not touch the timestamp")
	assert.Equal(t, rec.Archive, got.Archive)
	assert.Equal(t, rec.DestPath, got.DestPath)
	assert.Equal(t, rec.Size, got.Size)
	assert.Equal(t, rec.SHA256, got.SHA256)
	assert.Equal(t, int64(7), got.SyncRunID)
	assert.False(t, got.CopiedAt.IsZero(), "expected CopiedAt to be set")

	// Setting a new timestamp keeps the annotation
	require.NoError(t, store.SetTimestamp("lib/armeabi/libfoo.so", 300))
	got, err = store.GetEntryRecord("lib/armeabi/libfoo.so")
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.Modified)
	assert.Equal(t, "abc123", got.SHA256)
}

func TestAnnotateEntryMissing(t *testing.T) {
	store := newTestStore(t)

	assert.Error(t, store.AnnotateEntry(&EntryRecord{Name: "nope.so"}))
}

func TestGetEntryRecordNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetEntryRecord("missing.so")
	assert.Error(t, err)
}

func TestListEntryRecords(t *testing.T) {
	store := newTestStore(t)

	entries := []struct {
		name    string
		archive string
	}{
		{"lib/x86/libb.so", "/a.apk"},
		{"lib/x86/liba.so", "/a.apk"},
		{"lib/x86/libc.so", "/b.apk"},
	}
	for _, e := range entries {
		require.NoError(t, store.SetTimestamp(e.name, 1))
		require.NoError(t, store.AnnotateEntry(&EntryRecord{Name: e.name, Archive: e.archive}))
	}

	all, err := store.ListEntryRecords("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "lib/x86/liba.so", all[0].Name, "expected records ordered by name")

	fromA, err := store.ListEntryRecords("/a.apk")
	require.NoError(t, err)
	assert.Len(t, fromA, 2)
}

func TestDeleteEntryRecord(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetTimestamp("lib/mips/libfoo.so", 5))

	existed, err := store.DeleteEntryRecord("lib/mips/libfoo.so")
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok, _ := store.GetTimestamp("lib/mips/libfoo.so")
	assert.False(t, ok, "expected timestamp to be gone after delete")

	existed, err = store.DeleteEntryRecord("lib/mips/libfoo.so")
	require.NoError(t, err)
	assert.False(t, existed, "expected second delete to report no record")
}

func TestDeleteAllEntryRecords(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SetTimestamp(fmt.Sprintf("lib/x86/lib%d.so", i), 1))
	}

	n, err := store.DeleteAllEntryRecords()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	count, err := store.CountEntryRecords()
	require.NoError(t, err)
	assert.Zero(t, count)
}

// ============================================================================
// SyncRun CRUD Tests
// ============================================================================

func TestCreateSyncRun(t *testing.T) {
	store := newTestStore(t)

	run := &SyncRun{
		Archive:        "/plugins/foo.apk",
		Arch:           "arm",
		DestDir:        "/data/lib",
		StartTime:      time.Now(),
		EntriesCopied:  5,
		EntriesSkipped: 2,
		EntriesFailed:  1,
		BytesWritten:   1024000,
		Status:         "partial",
	}

	require.NoError(t, store.CreateSyncRun(run))
	assert.NotZero(t, run.ID, "Expected ID to be set after CreateSyncRun")

	// Verify the record was created
	retrieved, err := store.GetSyncRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Archive, retrieved.Archive)
	assert.Equal(t, run.Arch, retrieved.Arch)
	assert.Equal(t, run.EntriesCopied, retrieved.EntriesCopied)
	assert.Equal(t, run.BytesWritten, retrieved.BytesWritten)
	assert.Equal(t, run.Status, retrieved.Status)
}

func TestUpdateSyncRun(t *testing.T) {
	store := newTestStore(t)

	run := &SyncRun{
		Archive:   "/plugins/foo.apk",
		StartTime: time.Now(),
		Status:    "running",
	}
	require.NoError(t, store.CreateSyncRun(run))

	run.Status = "success"
	run.EntriesCopied = 3
	run.EndTime = time.Now()
	require.NoError(t, store.UpdateSyncRun(run))

	retrieved, err := store.GetSyncRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", retrieved.Status)
	assert.Equal(t, 3, retrieved.EntriesCopied)
}

func TestUpdateSyncRunNotFound(t *testing.T) {
	store := newTestStore(t)

	assert.Error(t, store.UpdateSyncRun(&SyncRun{ID: 999, StartTime: time.Now()}))
}

func TestGetSyncRunNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSyncRun(999)
	assert.Error(t, err)
}

func TestListSyncRuns(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	for i, archive := range []string{"/a.apk", "/b.apk", "/a.apk"} {
		run := &SyncRun{
			Archive:   archive,
			StartTime: base.Add(time.Duration(i) * time.Minute),
			Status:    "success",
		}
		require.NoError(t, store.CreateSyncRun(run))
	}

	all, err := store.ListSyncRuns("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].StartTime.After(all[2].StartTime), "expected runs ordered newest first")

	onlyA, err := store.ListSyncRuns("/a.apk", 0)
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	limited, err := store.ListSyncRuns("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// ============================================================================
// FailedEntry Tests
// ============================================================================

func TestAddFailedEntry(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	rec := &FailedEntry{
		Archive:      "/plugins/foo.apk",
		EntryName:    "lib/armeabi/libfoo.so",
		DestPath:     "/data/lib/libfoo.so",
		Error:        "permission denied",
		RetryCount:   1,
		FirstFailure: now,
		LastFailure:  now,
	}
	require.NoError(t, store.AddFailedEntry(rec))
	assert.NotZero(t, rec.ID, "Expected ID to be set after AddFailedEntry")

	// A second failure of the same entry bumps the retry count
	again := &FailedEntry{
		Archive:      "/plugins/foo.apk",
		EntryName:    "lib/armeabi/libfoo.so",
		Error:        "disk full",
		RetryCount:   1,
		FirstFailure: now.Add(time.Minute),
		LastFailure:  now.Add(time.Minute),
	}
	require.NoError(t, store.AddFailedEntry(again))

	failed, err := store.ListFailedEntries("/plugins/foo.apk")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].RetryCount)
	assert.Equal(t, "disk full", failed[0].Error, "want latest error")
	assert.Equal(t, "/data/lib/libfoo.so", failed[0].DestPath, "want first dest kept")
}

func TestResolveFailedEntries(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	for _, archive := range []string{"/a.apk", "/b.apk"} {
		require.NoError(t, store.AddFailedEntry(&FailedEntry{
			Archive:      archive,
			EntryName:    "lib/x86/libfoo.so",
			Error:        "boom",
			RetryCount:   1,
			FirstFailure: now,
			LastFailure:  now,
		}))
	}

	n, err := store.ResolveFailedEntries("lib/x86/libfoo.so")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	failed, err := store.ListFailedEntries("")
	require.NoError(t, err)
	assert.Empty(t, failed)

	n, err = store.ResolveFailedEntries("lib/x86/libfoo.so")
	require.NoError(t, err)
	assert.Zero(t, n, "second resolve finds nothing")
}

// ============================================================================
// MemoryStore Tests
// ============================================================================

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()

	_, ok, _ := m.GetTimestamp("a.so")
	assert.False(t, ok, "expected empty store")

	require.NoError(t, m.SetTimestamp("a.so", 42))
	got, ok, err := m.GetTimestamp("a.so")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), got)
	assert.Equal(t, 1, m.Len())

	m.Delete("a.so")
	assert.Zero(t, m.Len())
}
