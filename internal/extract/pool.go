// Package extract copies archive members to disk and runs those copies on a
// shared worker pool.
package extract

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/BadgerOps/libsync/internal/archive"
)

// Job is a single member copy.
type Job struct {
	Entry    *archive.Entry
	DestDir  string
	FileName string
	// Timestamp is the value to persist for Entry.Name once the copy succeeds.
	Timestamp int64
}

// Result is the outcome of a Job.
type Result struct {
	Job     Job
	Success bool
	Error   error
	Output  *Output
}

// Pool runs jobs concurrently. A pool is meant to be shared by every sync in
// the process; its worker limit applies across all of them.
type Pool struct {
	extractor *Extractor
	workers   int
	sem       *semaphore.Weighted
	logger    *slog.Logger
}

// NewPool creates a pool. workers <= 0 means no limit: every submitted job
// starts right away.
func NewPool(extractor *Extractor, workers int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = NewExtractor(logger)
	}
	p := &Pool{
		extractor: extractor,
		workers:   workers,
		logger:    logger,
	}
	if workers > 0 {
		p.sem = semaphore.NewWeighted(int64(workers))
	}
	return p
}

// Workers returns the configured limit; zero or less means unbounded.
func (p *Pool) Workers() int {
	return p.workers
}

// Submit schedules job and returns without waiting for a worker. done is
// called exactly once, from the worker goroutine, with the result.
//
// A job still waiting for a worker when ctx is cancelled fails with the
// context error. A job that has started streaming runs to completion.
func (p *Pool) Submit(ctx context.Context, job Job, done func(Result)) {
	go func() {
		if p.sem != nil {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				done(p.cancelled(job, err))
				return
			}
			defer p.sem.Release(1)
		}
		if err := ctx.Err(); err != nil {
			done(p.cancelled(job, err))
			return
		}
		done(p.run(job))
	}()
}

func (p *Pool) cancelled(job Job, err error) Result {
	return Result{
		Job:   job,
		Error: &CopyError{Op: "open", Name: job.Entry.Name, Dest: job.DestDir, Err: err},
	}
}

// run opens the member stream, copies it and always closes the stream. It
// never touches the archive itself.
func (p *Pool) run(job Job) Result {
	result := Result{Job: job}

	src, err := job.Entry.Open()
	if err != nil {
		result.Error = &CopyError{Op: "open", Name: job.Entry.Name, Dest: job.DestDir, Err: err}
		p.logger.Error("extract job failed", "entry", job.Entry.Name, "dest", job.FileName, "error", result.Error)
		return result
	}
	out, err := p.extractor.Extract(src, job.Entry.Size, job.DestDir, job.FileName)
	if closeErr := src.Close(); closeErr != nil {
		p.logger.Warn("failed to close entry stream", "entry", job.Entry.Name, "error", closeErr)
	}

	if err != nil {
		var ce *CopyError
		if errors.As(err, &ce) {
			ce.Name = job.Entry.Name
		}
		result.Error = err
		p.logger.Error("extract job failed", "entry", job.Entry.Name, "dest", job.FileName, "error", err)
		return result
	}

	result.Success = true
	result.Output = out
	p.logger.Info("extract job completed", "entry", job.Entry.Name, "dest", out.Path, "size", out.Size)
	return result
}
