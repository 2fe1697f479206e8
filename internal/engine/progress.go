package engine

import (
	"sort"
	"sync"
	"time"
)

// SyncPhase represents the current phase of a sync run.
type SyncPhase string

const (
	PhasePlanning   SyncPhase = "planning"
	PhaseExtracting SyncPhase = "extracting"
	PhaseComplete   SyncPhase = "complete"
	PhaseFailed     SyncPhase = "failed"
)

const maxRecentEvents = 20

// EntryEvent records a finished entry for the recent activity log.
type EntryEvent struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "copied", "failed", "skipped", "planned"
	Error  string `json:"error,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// SyncProgress is a snapshot of a run, safe for JSON serialization.
type SyncProgress struct {
	Archive      string       `json:"archive"`
	Arch         string       `json:"arch"`
	Phase        SyncPhase    `json:"phase"`
	Candidates   int          `json:"candidates"`
	Dispatched   int          `json:"dispatched"`
	Copied       int          `json:"copied"`
	Failed       int          `json:"failed"`
	Skipped      int          `json:"skipped"`
	Planned      int          `json:"planned"`
	TotalBytes   int64        `json:"total_bytes"`
	BytesWritten int64        `json:"bytes_written"`
	Percent      float64      `json:"percent"`
	InFlight     []string     `json:"in_flight,omitempty"`
	RecentEvents []EntryEvent `json:"recent_events,omitempty"`
	StartTime    time.Time    `json:"start_time"`
	Elapsed      string       `json:"elapsed"`
	Message      string       `json:"message,omitempty"`
}

// SyncTracker accumulates progress from pool workers in a thread-safe manner.
// Watchers use Updates() to block until something changes.
type SyncTracker struct {
	mu sync.Mutex

	archive      string
	arch         string
	phase        SyncPhase
	candidates   int
	copied       int
	failed       int
	skipped      int
	planned      int
	totalBytes   int64
	bytesWritten int64
	startTime    time.Time
	message      string

	// dispatched entries that have not finished, keyed by entry name
	inFlight map[string]struct{}

	recentEvents []EntryEvent

	// Close-and-replace: every update closes notify and installs a new one.
	notify chan struct{}
}

// NewSyncTracker creates a tracker for one archive.
func NewSyncTracker(archivePath, archName string) *SyncTracker {
	return &SyncTracker{
		archive:   archivePath,
		arch:      archName,
		phase:     PhasePlanning,
		startTime: time.Now(),
		inFlight:  make(map[string]struct{}),
		notify:    make(chan struct{}),
	}
}

// Snapshot returns a copy of the current progress state.
func (t *SyncTracker) Snapshot() SyncProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	dispatched := t.copied + t.failed + len(t.inFlight)

	var pct float64
	if dispatched > 0 {
		pct = float64(t.copied+t.failed) / float64(dispatched) * 100
	} else if t.phase == PhaseComplete || t.phase == PhaseFailed {
		pct = 100
	}

	inFlight := make([]string, 0, len(t.inFlight))
	for name := range t.inFlight {
		inFlight = append(inFlight, name)
	}
	sort.Strings(inFlight)

	recentEvents := make([]EntryEvent, len(t.recentEvents))
	copy(recentEvents, t.recentEvents)

	return SyncProgress{
		Archive:      t.archive,
		Arch:         t.arch,
		Phase:        t.phase,
		Candidates:   t.candidates,
		Dispatched:   dispatched,
		Copied:       t.copied,
		Failed:       t.failed,
		Skipped:      t.skipped,
		Planned:      t.planned,
		TotalBytes:   t.totalBytes,
		BytesWritten: t.bytesWritten,
		Percent:      pct,
		InFlight:     inFlight,
		RecentEvents: recentEvents,
		StartTime:    t.startTime,
		Elapsed:      time.Since(t.startTime).Truncate(time.Millisecond).String(),
		Message:      t.message,
	}
}

// Updates returns a channel that is closed on the next update.
func (t *SyncTracker) Updates() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// signal must be called with t.mu held.
func (t *SyncTracker) signal() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// addRecentEvent prepends ev to the rolling log. Must be called with t.mu held.
func (t *SyncTracker) addRecentEvent(ev EntryEvent) {
	t.recentEvents = append([]EntryEvent{ev}, t.recentEvents...)
	if len(t.recentEvents) > maxRecentEvents {
		t.recentEvents = t.recentEvents[:maxRecentEvents]
	}
}

// SetPhase updates the current phase.
func (t *SyncTracker) SetPhase(phase SyncPhase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
	t.signal()
}

// SetMessage sets a human-readable status message.
func (t *SyncTracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
	t.signal()
}

// EntryCandidate counts an entry that passed the filter.
func (t *SyncTracker) EntryCandidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates++
	t.signal()
}

// EntrySkipped records an entry the gate found unchanged.
func (t *SyncTracker) EntrySkipped(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
	t.addRecentEvent(EntryEvent{Name: name, Status: "skipped"})
	t.signal()
}

// EntryPlanned records an entry a dry run would have copied.
func (t *SyncTracker) EntryPlanned(name string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.planned++
	t.totalBytes += size
	t.addRecentEvent(EntryEvent{Name: name, Status: "planned", Size: size})
	t.signal()
}

// EntryDispatched marks an entry as handed to the pool.
func (t *SyncTracker) EntryDispatched(name string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight[name] = struct{}{}
	t.totalBytes += size
	t.signal()
}

// EntryCopied marks a dispatched entry as written.
func (t *SyncTracker) EntryCopied(name string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, name)
	t.copied++
	t.bytesWritten += size
	t.addRecentEvent(EntryEvent{Name: name, Status: "copied", Size: size})
	t.signal()
}

// EntryFailed marks a dispatched entry as failed with an error reason.
func (t *SyncTracker) EntryFailed(name string, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, name)
	t.failed++
	t.addRecentEvent(EntryEvent{Name: name, Status: "failed", Error: errMsg})
	t.signal()
}
