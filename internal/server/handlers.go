package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BadgerOps/libsync/internal/engine"
	"github.com/BadgerOps/libsync/internal/store"
)

// EntryJSON is the JSON representation of a recorded entry.
type EntryJSON struct {
	Name     string    `json:"name"`
	Modified int64     `json:"modified"`
	Archive  string    `json:"archive,omitempty"`
	DestPath string    `json:"dest_path,omitempty"`
	Size     int64     `json:"size"`
	SHA256   string    `json:"sha256,omitempty"`
	CopiedAt time.Time `json:"copied_at"`
}

// RunJSON is the JSON representation of a sync run record.
type RunJSON struct {
	ID           int64     `json:"id"`
	Archive      string    `json:"archive"`
	Arch         string    `json:"arch"`
	DestDir      string    `json:"dest_dir"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Copied       int       `json:"copied"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	BytesWritten int64     `json:"bytes_written"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
}

// FailureJSON is the JSON representation of an unresolved failed entry.
type FailureJSON struct {
	ID           int64     `json:"id"`
	Archive      string    `json:"archive"`
	EntryName    string    `json:"entry_name"`
	DestPath     string    `json:"dest_path"`
	Error        string    `json:"error"`
	RetryCount   int       `json:"retry_count"`
	FirstFailure time.Time `json:"first_failure"`
	LastFailure  time.Time `json:"last_failure"`
}

// SyncRequestBody is the expected request body for POST /api/sync.
// Libraries always go to the configured sync.dest_dir.
type SyncRequestBody struct {
	Archive string `json:"archive"`
}

// absPath makes archive paths comparable however they were spelled. It
// returns the cleaned input when the working directory is unavailable.
func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}

// configuredArchive returns the absolute path of archive when it is listed
// under sync.archives.
func (s *Server) configuredArchive(archive string) (string, bool) {
	want := absPath(archive)
	for _, a := range s.config.Sync.Archives {
		if absPath(a) == want {
			return want, true
		}
	}
	return "", false
}

// archiveParam returns the archive query parameter as an absolute path, or
// "" when absent.
func archiveParam(r *http.Request) string {
	if a := r.URL.Query().Get("archive"); a != "" {
		return absPath(a)
	}
	return ""
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	s.writeJSON(w, map[string]string{"error": msg})
}

// handleAPIStatus returns the recorded entries, optionally filtered by
// the archive query parameter.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListEntryRecords(archiveParam(r))
	if err != nil {
		s.logger.Error("failed to list entry records", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}

	response := make([]EntryJSON, 0, len(records))
	for _, rec := range records {
		response = append(response, EntryJSON{
			Name:     rec.Name,
			Modified: rec.Modified,
			Archive:  rec.Archive,
			DestPath: rec.DestPath,
			Size:     rec.Size,
			SHA256:   rec.SHA256,
			CopiedAt: rec.CopiedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, response)
}

// handleAPIRuns returns recent sync runs, newest first.
func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListSyncRuns(archiveParam(r), limit)
	if err != nil {
		s.logger.Error("failed to list sync runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	response := make([]RunJSON, 0, len(runs))
	for _, run := range runs {
		response = append(response, runToJSON(run))
	}

	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, response)
}

func runToJSON(run store.SyncRun) RunJSON {
	return RunJSON{
		ID:           run.ID,
		Archive:      run.Archive,
		Arch:         run.Arch,
		DestDir:      run.DestDir,
		StartTime:    run.StartTime,
		EndTime:      run.EndTime,
		Copied:       run.EntriesCopied,
		Skipped:      run.EntriesSkipped,
		Failed:       run.EntriesFailed,
		BytesWritten: run.BytesWritten,
		Status:       run.Status,
		Error:        run.ErrorMessage,
	}
}

// handleAPIFailures returns the unresolved failed entries.
func (s *Server) handleAPIFailures(w http.ResponseWriter, r *http.Request) {
	failed, err := s.store.ListFailedEntries(archiveParam(r))
	if err != nil {
		s.logger.Error("failed to list failed entries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list failures")
		return
	}

	response := make([]FailureJSON, 0, len(failed))
	for _, f := range failed {
		response = append(response, FailureJSON{
			ID:           f.ID,
			Archive:      f.Archive,
			EntryName:    f.EntryName,
			DestPath:     f.DestPath,
			Error:        f.Error,
			RetryCount:   f.RetryCount,
			FirstFailure: f.FirstFailure,
			LastFailure:  f.LastFailure,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, response)
}

// handleAPISync starts a sync of a configured archive and answers with its
// first progress snapshot. The run continues after the response is sent.
func (s *Server) handleAPISync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Archive == "" {
		s.writeError(w, http.StatusBadRequest, "archive required")
		return
	}
	// Only archives named in the config may be synced remotely.
	archive, ok := s.configuredArchive(req.Archive)
	if !ok {
		s.writeError(w, http.StatusNotFound, "archive not configured")
		return
	}

	run, err := s.coord.Sync(context.WithoutCancel(r.Context()), archive, s.config.Sync.DestDir, s.capability)
	if err != nil {
		s.logger.Error("sync failed to start", "archive", req.Archive, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Track(run)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, run.Snapshot())
}

// handleAPIProgress returns a snapshot of every tracked run.
func (s *Server) handleAPIProgress(w http.ResponseWriter, r *http.Request) {
	runs := s.trackedRuns()
	response := make([]engine.SyncProgress, 0, len(runs))
	for _, run := range runs {
		response = append(response, run.Snapshot())
	}

	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, response)
}

// handleAPIProgressStream streams SSE progress events for one archive's
// latest run until it completes or the client goes away.
func (s *Server) handleAPIProgressStream(w http.ResponseWriter, r *http.Request) {
	archive := archiveParam(r)
	if archive == "" {
		s.writeError(w, http.StatusBadRequest, "archive required")
		return
	}
	run := s.run(archive)
	if run == nil {
		s.writeError(w, http.StatusNotFound, "no run for archive")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	sendEvent := func(event string, data interface{}) {
		jsonData, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
		flusher.Flush()
	}

	for {
		// Take the channel before the snapshot so no change is missed.
		updates := run.Updates()
		sendEvent("progress", run.Snapshot())
		select {
		case <-run.Done():
			sendEvent("done", run.Snapshot())
			return
		case <-updates:
		case <-r.Context().Done():
			return
		}
	}
}
