package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mirrorops/gitlab-exporter/internal/gitlab"
	"github.com/mirrorops/gitlab-exporter/internal/models"
)

// JobState is the state of one project's export workflow.
type JobState string

const (
	StatePending         JobState = "PENDING"
	StateRequested       JobState = "REQUESTED"
	StatePolling         JobState = "POLLING"
	StateDownloading     JobState = "DOWNLOADING"
	StateDone            JobState = "DONE"
	StateAlreadyExported JobState = "ALREADY_EXPORTED"
	StateFailed          JobState = "FAILED"
	StateTimedOut        JobState = "TIMED_OUT"
	StateForbidden       JobState = "FORBIDDEN"
)

// Terminal reports whether the state ends the job.
func (s JobState) Terminal() bool {
	switch s {
	case StateDone, StateAlreadyExported, StateFailed, StateTimedOut, StateForbidden:
		return true
	}
	return false
}

// Success reports whether the state counts as an exported project.
func (s JobState) Success() bool {
	return s == StateDone || s == StateAlreadyExported
}

// downloadChunkSize bounds memory use while streaming archives to disk.
const downloadChunkSize = 8 * 1024

// Job drives one project through the export workflow: request the
// export, poll until the remote finishes building it, then download the
// archive with byte-range resume. A job holds exactly one download-class
// slot for its whole run; the orchestrator acquires it before calling Run.
type Job struct {
	client       *gitlab.Client
	project      *models.Project
	archivePath  string
	pollInterval time.Duration
	pollAttempts int
	logger       *logrus.Entry

	state           JobState
	bytesDownloaded int64
}

// NewJob creates a job for one (instance, project) pair.
func NewJob(client *gitlab.Client, project *models.Project, archivePath string, pollInterval time.Duration, pollAttempts int, logger *logrus.Logger) *Job {
	return &Job{
		client:       client,
		project:      project,
		archivePath:  archivePath,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
		state:        StatePending,
		logger: logger.WithFields(logrus.Fields{
			"project":    project.PathWithNamespace,
			"project_id": project.ID,
		}),
	}
}

// State returns the job's current state.
func (j *Job) State() JobState {
	return j.state
}

// BytesDownloaded returns how many bytes this run actually transferred.
// Set only when the download completed.
func (j *Job) BytesDownloaded() int64 {
	return j.bytesDownloaded
}

// Run executes the state machine to a terminal state. It never returns a
// non-terminal state and never panics across the boundary; any failure is
// converted into a terminal state for the orchestrator to account.
func (j *Job) Run(ctx context.Context) JobState {
	// Fast path: a finished archive on disk from an earlier run means
	// the project needs no remote contact at all.
	if _, err := os.Stat(j.archivePath); err == nil {
		j.logger.Info("Already exported")
		j.state = StateAlreadyExported
		return j.state
	}

	j.state = StateRequested
	if err := j.client.TriggerExport(ctx, j.project.ID); err != nil {
		if gitlab.IsForbidden(err) {
			j.logger.WithError(err).Error("Access forbidden to trigger export")
			j.state = StateForbidden
			return j.state
		}
		j.logger.WithError(err).Error("Failed to start export")
		j.state = StateFailed
		return j.state
	}

	j.state = StatePolling
	status, ok := j.poll(ctx)
	if !ok {
		return j.state
	}
	if status != "finished" {
		j.logger.WithField("export_status", status).Error("Export failed on remote")
		j.state = StateFailed
		return j.state
	}

	j.state = StateDownloading
	if err := j.Download(ctx); err != nil {
		j.logger.WithError(err).Error("Failed to download export")
		j.state = StateFailed
		return j.state
	}

	j.state = StateDone
	return j.state
}

// poll waits for the remote export to reach a terminal status. Transient
// non-200 responses are ignored and do not consume the attempt budget; a
// wall-clock backstop of twice the nominal budget still guarantees
// termination against a permanently failing status endpoint. Returns the
// terminal status and true, or sets the job state and returns false.
func (j *Job) poll(ctx context.Context) (string, bool) {
	deadline := time.Now().Add(2 * j.pollInterval * time.Duration(j.pollAttempts))
	attempts := 0

	for attempts < j.pollAttempts && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			j.logger.WithError(ctx.Err()).Error("Export cancelled while polling")
			j.state = StateFailed
			return "", false
		case <-time.After(j.pollInterval):
		}

		status, err := j.client.ExportStatus(ctx, j.project.ID)
		if err != nil {
			if ctx.Err() != nil {
				j.logger.WithError(ctx.Err()).Error("Export cancelled while polling")
				j.state = StateFailed
				return "", false
			}
			j.logger.WithError(err).Debug("Transient poll failure, continuing")
			continue
		}

		if status == "finished" || status == "failed" {
			return status, true
		}
		attempts++
	}

	j.logger.WithField("attempts", attempts).Error("Export timed out")
	j.state = StateTimedOut
	return "", false
}

// Download fetches the export archive to the target path, resuming from
// the current file size when a partial file is already on disk. The body
// is streamed to disk in fixed-size chunks so memory use stays flat no
// matter how large the archive is. A failed download leaves any partial
// file intact for a later resume.
func (j *Job) Download(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(j.archivePath), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	var offset int64
	if fi, err := os.Stat(j.archivePath); err == nil {
		offset = fi.Size()
	}

	resp, err := j.client.ExportDownloadRequest(ctx, j.project.ID, offset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusForbidden:
		j.logger.Error("Access forbidden to download export")
		return gitlab.NewAPIError(resp.StatusCode, "download forbidden", nil)
	default:
		return gitlab.NewAPIError(resp.StatusCode, "download failed", nil)
	}

	flags := os.O_CREATE | os.O_WRONLY
	resumed := offset > 0 && resp.StatusCode == http.StatusPartialContent
	if resumed {
		flags |= os.O_APPEND
	} else {
		// Either a fresh download or the server ignored the range
		// request; start the file over so no byte range is duplicated.
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(j.archivePath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", j.archivePath, err)
	}
	defer file.Close()

	buf := make([]byte, downloadChunkSize)
	written, err := io.CopyBuffer(file, resp.Body, buf)
	if err != nil {
		return fmt.Errorf("failed while streaming archive: %w", err)
	}

	j.bytesDownloaded = written
	total := written
	if resumed {
		total += offset
	}

	entry := j.logger.WithFields(logrus.Fields{
		"bytes": written,
		"size":  total,
	})
	if resumed {
		entry.Info("Resumed and completed download")
	} else {
		entry.Info("Downloaded export archive")
	}
	return nil
}
