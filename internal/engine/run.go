package engine

import (
	"context"
	"sync"
	"time"

	"github.com/BadgerOps/libsync/internal/arch"
)

// Run statuses, as stored on sync run records.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// FailedCopy describes one entry that could not be extracted.
type FailedCopy struct {
	Name  string
	Dest  string
	Error error
}

// SyncReport summarizes a finished run.
type SyncReport struct {
	Archive      string
	DestDir      string
	Arch         arch.Tag
	DryRun       bool
	StartTime    time.Time
	EndTime      time.Time
	Candidates   int
	Skipped      int
	Copied       int
	Failed       []FailedCopy
	Planned      []string // entries a dry run would copy
	BytesWritten int64
}

// Dispatched is the number of copy tasks handed to the pool.
func (r *SyncReport) Dispatched() int {
	return r.Copied + len(r.Failed)
}

// Duration is the wall time from start to completion of the last task.
func (r *SyncReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Status classifies the outcome: failed when nothing dispatched succeeded,
// partial when some copies failed, success otherwise.
func (r *SyncReport) Status() string {
	switch {
	case len(r.Failed) > 0 && r.Copied == 0:
		return StatusFailed
	case len(r.Failed) > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// Run is the join handle for one Sync call. Sync returns once every task is
// submitted; the Run completes when the last task has finished and the
// archive is closed.
type Run struct {
	tracker *SyncTracker
	wg      sync.WaitGroup
	done    chan struct{}

	mu     sync.Mutex
	report SyncReport
}

func newRun(archivePath, destDir string, tag arch.Tag, dryRun bool, start time.Time) *Run {
	return &Run{
		tracker: NewSyncTracker(archivePath, tag.String()),
		done:    make(chan struct{}),
		report: SyncReport{
			Archive:   archivePath,
			DestDir:   destDir,
			Arch:      tag,
			DryRun:    dryRun,
			StartTime: start,
		},
	}
}

// Done is closed once every dispatched task has completed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run completes or ctx is done. Giving up on the wait
// does not stop tasks already submitted.
func (r *Run) Wait(ctx context.Context) (*SyncReport, error) {
	select {
	case <-r.done:
		return r.Report(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Report returns a copy of the report gathered so far. It is final once Done
// is closed.
func (r *Run) Report() *SyncReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := r.report
	rep.Failed = append([]FailedCopy(nil), r.report.Failed...)
	rep.Planned = append([]string(nil), r.report.Planned...)
	return &rep
}

// Snapshot returns live progress.
func (r *Run) Snapshot() SyncProgress {
	return r.tracker.Snapshot()
}

// Updates returns a channel closed on the next progress change.
func (r *Run) Updates() <-chan struct{} {
	return r.tracker.Updates()
}

func (r *Run) candidate() {
	r.mu.Lock()
	r.report.Candidates++
	r.mu.Unlock()
	r.tracker.EntryCandidate()
}

func (r *Run) skipped(name string) {
	r.mu.Lock()
	r.report.Skipped++
	r.mu.Unlock()
	r.tracker.EntrySkipped(name)
}

func (r *Run) planned(name string, size int64) {
	r.mu.Lock()
	r.report.Planned = append(r.report.Planned, name)
	r.mu.Unlock()
	r.tracker.EntryPlanned(name, size)
}

func (r *Run) copied(name string, size int64) {
	r.mu.Lock()
	r.report.Copied++
	r.report.BytesWritten += size
	r.mu.Unlock()
	r.tracker.EntryCopied(name, size)
}

func (r *Run) failed(name, dest string, err error) {
	r.mu.Lock()
	r.report.Failed = append(r.report.Failed, FailedCopy{Name: name, Dest: dest, Error: err})
	r.mu.Unlock()
	r.tracker.EntryFailed(name, err.Error())
}

// finish stamps the end time and returns the final report.
func (r *Run) finish(end time.Time) *SyncReport {
	r.mu.Lock()
	r.report.EndTime = end
	r.mu.Unlock()
	return r.Report()
}
