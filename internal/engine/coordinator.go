// Package engine decides which native libraries in an archive need copying
// and drives their extraction on the shared worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/libsync/internal/arch"
	"github.com/BadgerOps/libsync/internal/archive"
	"github.com/BadgerOps/libsync/internal/extract"
	"github.com/BadgerOps/libsync/internal/safety"
	"github.com/BadgerOps/libsync/internal/store"
)

// RunRecorder is implemented by stores that keep run history and a dead
// letter queue next to the timestamps. The coordinator uses it when the
// TimestampStore it was given also satisfies this interface.
type RunRecorder interface {
	CreateSyncRun(run *store.SyncRun) error
	UpdateSyncRun(run *store.SyncRun) error
	AnnotateEntry(rec *store.EntryRecord) error
	AddFailedEntry(rec *store.FailedEntry) error
	ResolveFailedEntries(entryName string) (int64, error)
}

// Options tune a Coordinator.
type Options struct {
	// Force copies every candidate regardless of persisted timestamps.
	Force bool
	// DryRun plans the copies without dispatching them.
	DryRun bool
	// Arch overrides the tag detected from the capability text.
	Arch *arch.Tag
	// ArchiveConcurrency bounds how many archives SyncAll opens at once.
	// Zero or less means no limit.
	ArchiveConcurrency int
}

// Coordinator runs selective extraction for one archive at a time against an
// injected store and worker pool. A Coordinator holds no per-call state and
// may be used for many Sync calls concurrently.
type Coordinator struct {
	store    TimestampStore
	recorder RunRecorder
	pool     *extract.Pool
	opts     Options
	logger   *slog.Logger

	openArchive func(path string) (*archive.Archive, error)
}

// NewCoordinator creates a Coordinator. A nil pool gets an unbounded one.
func NewCoordinator(st TimestampStore, pool *extract.Pool, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if pool == nil {
		pool = extract.NewPool(nil, 0, logger)
	}
	c := &Coordinator{
		store:  st,
		pool:   pool,
		opts:   opts,
		logger: logger,

		openArchive: archive.Open,
	}
	if rec, ok := st.(RunRecorder); ok {
		c.recorder = rec
	}
	return c
}

// Sync extracts the native libraries for the architecture described by
// capability from the archive at archivePath into destDir. Entries whose
// persisted timestamp matches the archive are skipped.
//
// Sync returns once every copy is submitted. The returned Run completes after
// the last copy finishes; the archive stays open until then and is closed by
// the Run. Per-entry failures are reported on the Run, never as an error
// here. If the archive cannot be opened Sync returns *archive.OpenError and
// nothing is processed.
func (c *Coordinator) Sync(ctx context.Context, archivePath, destDir, capability string) (*Run, error) {
	start := time.Now()

	tag := arch.Detect(capability)
	if c.opts.Arch != nil {
		tag = *c.opts.Arch
	}

	a, err := c.openArchive(archivePath)
	if err != nil {
		c.logger.Error("failed to open archive", "archive", archivePath, "error", err)
		return nil, err
	}

	c.logger.Info("starting sync",
		"archive", archivePath,
		"dest", destDir,
		"arch", tag.String(),
		"force", c.opts.Force,
		"dry_run", c.opts.DryRun,
	)

	run := newRun(archivePath, destDir, tag, c.opts.DryRun, start)
	record := c.beginRecord(run.Report())

	run.tracker.SetPhase(PhaseExtracting)
	for e := range archive.Select(a.Entries(), tag) {
		run.candidate()

		if !c.opts.Force {
			copyEntry, err := gate(e, c.store)
			if err != nil {
				c.logger.Warn("treating entry as changed", "archive", archivePath, "entry", e.Name, "error", err)
			}
			if !copyEntry {
				c.logger.Debug("entry unchanged, skipping", "archive", archivePath, "entry", e.Name, "modified", e.Modified)
				run.skipped(e.Name)
				continue
			}
		}

		if c.opts.DryRun {
			c.logger.Info("would copy entry", "archive", archivePath, "entry", e.Name, "size", e.Size)
			run.planned(e.Name, e.Size)
			continue
		}

		job := extract.Job{
			Entry:     e,
			DestDir:   destDir,
			FileName:  safety.EntryBaseName(e.Name),
			Timestamp: e.Modified,
		}
		run.tracker.EntryDispatched(e.Name, e.Size)
		run.wg.Add(1)
		c.pool.Submit(ctx, job, func(res extract.Result) {
			defer run.wg.Done()
			c.complete(run, record, res)
		})
	}

	go func() {
		run.wg.Wait()
		if err := a.Close(); err != nil {
			c.logger.Warn("failed to close archive", "archive", archivePath, "error", err)
		}
		c.finish(run, record)
		close(run.done)
	}()

	return run, nil
}

// complete runs on the worker goroutine once a job has finished.
func (c *Coordinator) complete(run *Run, record *store.SyncRun, res extract.Result) {
	name := res.Job.Entry.Name

	if !res.Success {
		run.failed(name, res.Job.FileName, res.Error)
		c.recordFailure(run, res)
		return
	}

	if err := c.store.SetTimestamp(name, res.Job.Timestamp); err != nil {
		c.logger.Error("failed to persist timestamp", "entry", name, "error", err)
	}
	run.copied(name, res.Output.Size)

	if c.recorder == nil {
		return
	}
	rec := &store.EntryRecord{
		Name:     name,
		Archive:  run.report.Archive,
		DestPath: res.Output.Path,
		Size:     res.Output.Size,
		SHA256:   res.Output.SHA256,
	}
	if record != nil {
		rec.SyncRunID = record.ID
	}
	if err := c.recorder.AnnotateEntry(rec); err != nil {
		c.logger.Warn("failed to annotate entry record", "entry", name, "error", err)
	}
	if n, err := c.recorder.ResolveFailedEntries(name); err != nil {
		c.logger.Warn("failed to resolve failed entries", "entry", name, "error", err)
	} else if n > 0 {
		c.logger.Info("resolved failed entry", "entry", name, "count", n)
	}
}

func (c *Coordinator) recordFailure(run *Run, res extract.Result) {
	if c.recorder == nil {
		return
	}
	now := time.Now()
	rec := &store.FailedEntry{
		Archive:      run.report.Archive,
		EntryName:    res.Job.Entry.Name,
		DestPath:     res.Job.FileName,
		Error:        res.Error.Error(),
		RetryCount:   1,
		FirstFailure: now,
		LastFailure:  now,
	}
	if dest, err := safety.JoinFileName(res.Job.DestDir, res.Job.FileName); err == nil {
		rec.DestPath = dest
	}
	if err := c.recorder.AddFailedEntry(rec); err != nil {
		c.logger.Error("failed to add failed entry record", "entry", rec.EntryName, "error", err)
	}
}

// beginRecord creates the sync run row. Dry runs and stores without history
// get no row.
func (c *Coordinator) beginRecord(rep *SyncReport) *store.SyncRun {
	if c.recorder == nil || rep.DryRun {
		return nil
	}
	record := &store.SyncRun{
		Archive:   rep.Archive,
		Arch:      rep.Arch.String(),
		DestDir:   rep.DestDir,
		StartTime: rep.StartTime,
		Status:    StatusRunning,
	}
	if err := c.recorder.CreateSyncRun(record); err != nil {
		c.logger.Error("failed to create sync run record", "archive", rep.Archive, "error", err)
		return nil
	}
	return record
}

func (c *Coordinator) finish(run *Run, record *store.SyncRun) {
	rep := run.finish(time.Now())

	if len(rep.Failed) > 0 {
		run.tracker.SetPhase(PhaseFailed)
		run.tracker.SetMessage(fmt.Sprintf("Completed with %d failures", len(rep.Failed)))
	} else {
		run.tracker.SetPhase(PhaseComplete)
		run.tracker.SetMessage(fmt.Sprintf("Sync complete: %d entries copied", rep.Copied))
	}

	if record != nil {
		record.EndTime = rep.EndTime
		record.EntriesCopied = rep.Copied
		record.EntriesSkipped = rep.Skipped
		record.EntriesFailed = len(rep.Failed)
		record.BytesWritten = rep.BytesWritten
		record.Status = rep.Status()
		if len(rep.Failed) > 0 {
			record.ErrorMessage = rep.Failed[0].Error.Error()
		}
		if err := c.recorder.UpdateSyncRun(record); err != nil {
			c.logger.Error("failed to update sync run record", "archive", rep.Archive, "error", err)
		}
	}

	c.logger.Info("sync completed",
		"archive", rep.Archive,
		"arch", rep.Arch.String(),
		"candidates", rep.Candidates,
		"copied", rep.Copied,
		"skipped", rep.Skipped,
		"failed", len(rep.Failed),
		"planned", len(rep.Planned),
		"bytes_written", rep.BytesWritten,
		"duration", rep.Duration(),
	)
}

// SyncAll syncs several archives into destDir and waits for all of them.
// Archives run concurrently up to Options.ArchiveConcurrency. One archive
// failing to open does not stop the others; the reports of every archive
// that ran are returned along with the joined open errors.
func (c *Coordinator) SyncAll(ctx context.Context, archives []string, destDir, capability string) ([]*SyncReport, error) {
	results := make([]*SyncReport, len(archives))

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if c.opts.ArchiveConcurrency > 0 {
		g.SetLimit(c.opts.ArchiveConcurrency)
	}

	for i, path := range archives {
		g.Go(func() error {
			run, err := c.Sync(ctx, path, destDir, capability)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			rep, err := run.Wait(ctx)
			if err != nil {
				return fmt.Errorf("failed waiting for %s: %w", path, err)
			}
			results[i] = rep
			return nil
		})
	}
	waitErr := g.Wait()

	reports := make([]*SyncReport, 0, len(results))
	for _, rep := range results {
		if rep != nil {
			reports = append(reports, rep)
		}
	}

	c.logger.Info("sync all completed", "archives", len(archives), "synced", len(reports), "errors", len(errs))
	return reports, errors.Join(append(errs, waitErr)...)
}
