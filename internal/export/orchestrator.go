package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mirrorops/gitlab-exporter/internal/gitlab"
	"github.com/mirrorops/gitlab-exporter/internal/models"
	"github.com/mirrorops/gitlab-exporter/internal/utils"
)

// Options configures one instance run.
type Options struct {
	ExportDir              string
	RunDir                 string // resume an earlier run directory; empty means a fresh timestamped one
	MaxConcurrentDownloads int
	MaxConcurrentAPICalls  int
	PollInterval           time.Duration
	PollAttempts           int
	IncludeArchived        bool
	ExportWikis            bool
	ExportSnippets         bool
	ExportMetadata         bool
	LogLevel               logrus.Level
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrentDownloads < 1 {
		o.MaxConcurrentDownloads = 5
	}
	if o.MaxConcurrentAPICalls < 1 {
		o.MaxConcurrentAPICalls = 10
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PollAttempts < 1 {
		o.PollAttempts = 120
	}
	if o.LogLevel == 0 {
		o.LogLevel = logrus.InfoLevel
	}
}

// Exporter drives the full export of one instance: connection
// validation, project listing, the concurrent per-project export jobs,
// the sequential wiki/snippet/metadata passes, and the final report.
type Exporter struct {
	instance *models.Instance
	client   *gitlab.Client
	opts     Options
	coord    *Coordinator
	stats    *Stats
	logger   *logrus.Logger
	hook     *fileHook
	runID    string
	runDir   string

	failedMu       sync.Mutex
	failedProjects []string
}

// New creates an exporter for one instance run. It creates the run
// directory and wires the client's retry hook into the shared counters.
func New(instance *models.Instance, client *gitlab.Client, opts Options) (*Exporter, error) {
	opts.applyDefaults()

	runDir := opts.RunDir
	if runDir == "" {
		runDir = filepath.Join(opts.ExportDir, instance.Name, time.Now().Format("20060102_150405"))
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	logger, hook, err := newRunLogger(runDir, opts.LogLevel)
	if err != nil {
		return nil, err
	}

	stats := NewStats()
	client.OnRetry(stats.AddRetry)

	return &Exporter{
		instance: instance,
		client:   client,
		opts:     opts,
		coord:    NewCoordinator(opts.MaxConcurrentDownloads, opts.MaxConcurrentAPICalls),
		stats:    stats,
		logger:   logger,
		hook:     hook,
		runID:    uuid.NewString(),
		runDir:   runDir,
	}, nil
}

// RunID returns the unique identifier of this run.
func (e *Exporter) RunID() string {
	return e.runID
}

// RunDir returns the run's output directory.
func (e *Exporter) RunDir() string {
	return e.runDir
}

// Instance returns the instance being exported.
func (e *Exporter) Instance() *models.Instance {
	return e.instance
}

// StatsSnapshot returns a consistent view of the run's counters. Safe to
// call from other goroutines while the run is in progress.
func (e *Exporter) StatsSnapshot() models.ReportStats {
	return e.stats.Snapshot()
}

// Run executes the export to completion and returns the final report.
// A connection-validation failure aborts only this instance. Individual
// project failures never abort the batch; they end up in the report's
// failed-project list.
func (e *Exporter) Run(ctx context.Context) (*models.ExportReport, error) {
	defer e.hook.Close()

	if err := e.validateConnection(ctx); err != nil {
		e.logger.WithError(err).WithField("instance", e.instance.Name).Error("Connection validation failed")
		return nil, fmt.Errorf("connection validation failed for %s: %w", e.instance.Name, err)
	}

	projects := e.fetchAllProjects(ctx)
	e.instance.ProjectsCount = len(projects)
	e.logger.WithFields(logrus.Fields{
		"instance": e.instance.Name,
		"projects": len(projects),
	}).Info("Project listing complete")

	e.exportProjects(ctx, projects)

	if e.opts.ExportWikis {
		e.exportWikis(ctx, projects)
	}
	if e.opts.ExportSnippets {
		e.exportSnippets(ctx, projects)
	}
	if e.opts.ExportMetadata {
		e.exportMetadata(ctx, projects)
	}

	report := e.buildReport(len(projects))
	if err := e.writeReport(report); err != nil {
		e.logger.WithError(err).Error("Failed to write export report")
		return report, err
	}

	e.logSummary(report)
	return report, nil
}

// validateConnection checks credentials via /user and records the
// discovered instance attributes. The product version is best-effort.
func (e *Exporter) validateConnection(ctx context.Context) error {
	if err := e.coord.API.Acquire(ctx); err != nil {
		return err
	}
	user, err := e.client.CurrentUser(ctx)
	e.coord.API.Release()
	if err != nil {
		return err
	}
	e.instance.Username = user.Username
	e.instance.Email = user.Email

	if err := e.coord.API.Acquire(ctx); err != nil {
		return err
	}
	version, verr := e.client.Version(ctx)
	e.coord.API.Release()
	if verr == nil {
		e.instance.Version = version.Version
	}

	e.logger.WithFields(logrus.Fields{
		"instance": e.instance.Name,
		"username": e.instance.Username,
		"version":  e.instance.Version,
	}).Info("Connected")
	return nil
}

// exportProjects fans out one job per project and waits for all of them,
// regardless of individual outcomes.
func (e *Exporter) exportProjects(ctx context.Context, projects []*models.Project) {
	var wg sync.WaitGroup
	for _, project := range projects {
		wg.Add(1)
		go func(p *models.Project) {
			defer wg.Done()
			e.runJob(ctx, p)
		}(project)
	}
	wg.Wait()
}

// runJob holds one download-class slot for the project's entire
// workflow, including the poll loop. Nothing escaping the job may take
// down the batch: panics and terminal failures alike become a stats
// update plus a failed-list entry.
func (e *Exporter) runJob(ctx context.Context, p *models.Project) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("project", p.PathWithNamespace).Errorf("Export job panicked: %v", r)
			e.recordFailure(p)
		}
	}()

	if err := e.coord.Downloads.Acquire(ctx); err != nil {
		e.logger.WithError(err).WithField("project", p.PathWithNamespace).Warn("Export job never started")
		e.recordFailure(p)
		return
	}
	defer e.coord.Downloads.Release()

	job := NewJob(e.client, p, e.archivePath(p), e.opts.PollInterval, e.opts.PollAttempts, e.logger)
	state := job.Run(ctx)

	if state.Success() {
		e.stats.AddExported()
	} else {
		e.recordFailure(p)
	}
	if n := job.BytesDownloaded(); n > 0 {
		e.stats.AddBytes(n)
	}
}

func (e *Exporter) recordFailure(p *models.Project) {
	e.stats.AddFailed()
	e.failedMu.Lock()
	e.failedProjects = append(e.failedProjects, p.PathWithNamespace)
	e.failedMu.Unlock()
}

func (e *Exporter) archivePath(p *models.Project) string {
	return filepath.Join(e.runDir, "projects", utils.SanitizeProjectPath(p.PathWithNamespace)+".tar.gz")
}

func (e *Exporter) projectDir(kind string, p *models.Project) string {
	return filepath.Join(e.runDir, kind, utils.SanitizeProjectPath(p.PathWithNamespace))
}

func (e *Exporter) buildReport(totalProjects int) *models.ExportReport {
	stats := e.stats.Snapshot()
	stats.TotalProjects = totalProjects

	e.failedMu.Lock()
	failed := make([]string, len(e.failedProjects))
	copy(failed, e.failedProjects)
	e.failedMu.Unlock()

	return &models.ExportReport{
		RunID:          e.runID,
		Instance:       e.instance.Name,
		URL:            e.instance.URL,
		ExportDate:     time.Now(),
		Statistics:     stats,
		FailedProjects: failed,
	}
}

func (e *Exporter) writeReport(report *models.ExportReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export report: %w", err)
	}
	path := filepath.Join(e.runDir, "export_report.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export report: %w", err)
	}
	return nil
}

func (e *Exporter) logSummary(report *models.ExportReport) {
	e.logger.WithFields(logrus.Fields{
		"instance":          report.Instance,
		"projects_exported": report.Statistics.ProjectsExported,
		"projects_failed":   report.Statistics.ProjectsFailed,
		"wikis_exported":    report.Statistics.WikisExported,
		"snippets_exported": report.Statistics.SnippetsExported,
		"total_size":        utils.FormatSize(report.Statistics.TotalSizeBytes),
		"success_rate":      fmt.Sprintf("%.1f%%", report.Statistics.SuccessRate),
		"retries":           report.Statistics.Retries,
		"elapsed":           e.stats.Elapsed().Round(time.Second).String(),
		"export_dir":        e.runDir,
	}).Info("Export complete")
}
