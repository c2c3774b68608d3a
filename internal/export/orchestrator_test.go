package export

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorops/gitlab-exporter/internal/gitlab"
	"github.com/mirrorops/gitlab-exporter/internal/models"
)

// fakeGitLab serves just enough of the v4 API for a full instance run:
// three projects, one of which always refuses the export trigger.
type fakeGitLab struct {
	exportPosts int32
}

func (f *fakeGitLab) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			atomic.AddInt32(&f.exportPosts, 1)
			if r.URL.Path == "/api/v4/projects/3/export" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}

		switch r.URL.Path {
		case "/api/v4/user":
			fmt.Fprint(w, `{"username": "admin", "email": "admin@example.com"}`)
		case "/api/v4/version":
			fmt.Fprint(w, `{"version": "16.11.0", "revision": "abc123"}`)
		case "/api/v4/projects":
			fmt.Fprint(w, `[
				{"id": 1, "path_with_namespace": "group/alpha", "wiki_enabled": true, "issues_enabled": true},
				{"id": 2, "path_with_namespace": "group/beta"},
				{"id": 3, "path_with_namespace": "group/forbidden"}
			]`)
		case "/api/v4/projects/1/export", "/api/v4/projects/2/export":
			fmt.Fprint(w, `{"export_status": "finished"}`)
		case "/api/v4/projects/1/export/download", "/api/v4/projects/2/export/download":
			w.Write([]byte("archive-bytes"))
		case "/api/v4/projects/1/wikis":
			fmt.Fprint(w, `[{"slug": "home", "title": "Home", "format": "markdown"}]`)
		case "/api/v4/projects/1/wikis/home":
			fmt.Fprint(w, `{"slug": "home", "content": "# Home"}`)
		case "/api/v4/projects/1/snippets":
			fmt.Fprint(w, `[{"id": 9, "title": "deploy", "file_name": "deploy.sh"}]`)
		case "/api/v4/projects/2/snippets", "/api/v4/projects/3/snippets":
			fmt.Fprint(w, `[]`)
		case "/api/v4/projects/1/snippets/9/raw":
			w.Write([]byte("echo deploy"))
		case "/api/v4/projects/1/issues":
			if r.URL.Query().Get("page") == "1" {
				fmt.Fprint(w, `[{"iid": 1, "title": "first issue"}]`)
				return
			}
			fmt.Fprint(w, `[]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestExporter(t *testing.T, url string, opts Options) *Exporter {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	client := gitlab.NewClient(url, "test-token", logger,
		gitlab.WithRetryPolicy(gitlab.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}),
	)

	instance := &models.Instance{Name: "test-gitlab", URL: url, Token: "test-token"}
	exporter, err := New(instance, client, opts)
	require.NoError(t, err)
	return exporter
}

func TestExporter_Run(t *testing.T) {
	fake := &fakeGitLab{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	exporter := newTestExporter(t, server.URL, Options{
		ExportDir:              t.TempDir(),
		MaxConcurrentDownloads: 2,
		MaxConcurrentAPICalls:  4,
		PollInterval:           time.Millisecond,
		PollAttempts:           10,
		ExportWikis:            true,
		ExportSnippets:         true,
		ExportMetadata:         true,
	})

	report, err := exporter.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, "test-gitlab", report.Instance)
	assert.Equal(t, exporter.RunID(), report.RunID)
	assert.Equal(t, 3, report.Statistics.TotalProjects)
	assert.Equal(t, 2, report.Statistics.ProjectsExported)
	assert.Equal(t, 1, report.Statistics.ProjectsFailed)
	assert.Equal(t, []string{"group/forbidden"}, report.FailedProjects)
	assert.Equal(t, 1, report.Statistics.WikisExported)
	assert.Equal(t, 1, report.Statistics.SnippetsExported)
	assert.Equal(t, int64(2*len("archive-bytes")), report.Statistics.TotalSizeBytes)
	assert.InDelta(t, 66.67, report.Statistics.SuccessRate, 0.01)

	// Connection validation fills in the discovered attributes.
	assert.Equal(t, "admin", exporter.Instance().Username)
	assert.Equal(t, "16.11.0", exporter.Instance().Version)
	assert.Equal(t, 3, exporter.Instance().ProjectsCount)

	// The download pool was never over-subscribed.
	assert.LessOrEqual(t, exporter.coord.Downloads.MaxInFlight(), 2)

	runDir := exporter.RunDir()
	for _, rel := range []string{
		"projects/group_alpha.tar.gz",
		"projects/group_beta.tar.gz",
		"wikis/group_alpha/wiki_index.json",
		"wikis/group_alpha/home.md",
		"snippets/group_alpha/9_deploy.sh",
		"snippets/group_alpha/9_metadata.json",
		"metadata/group_alpha/issues.json",
		"export_report.json",
		"export.log",
		"errors.log",
	} {
		assert.FileExists(t, filepath.Join(runDir, rel), rel)
	}

	content, err := os.ReadFile(filepath.Join(runDir, "wikis/group_alpha/home.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Home", string(content))

	// No archive for the forbidden project.
	assert.NoFileExists(t, filepath.Join(runDir, "projects/group_forbidden.tar.gz"))
}

func TestExporter_Run_ResumesExistingRunDir(t *testing.T) {
	fake := &fakeGitLab{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	runDir := filepath.Join(t.TempDir(), "run")
	opts := Options{
		RunDir:                 runDir,
		MaxConcurrentDownloads: 2,
		MaxConcurrentAPICalls:  4,
		PollInterval:           time.Millisecond,
		PollAttempts:           10,
	}

	first := newTestExporter(t, server.URL, opts)
	_, err := first.Run(context.Background())
	require.NoError(t, err)
	// Two exportable projects plus the forbidden one trigger a POST each.
	assert.Equal(t, int32(3), atomic.LoadInt32(&fake.exportPosts))

	second := newTestExporter(t, server.URL, opts)
	report, err := second.Run(context.Background())
	require.NoError(t, err)

	// The archives from the first run short-circuit the two exportable
	// projects; only the forbidden one is triggered again.
	assert.Equal(t, int32(4), atomic.LoadInt32(&fake.exportPosts))
	assert.Equal(t, 2, report.Statistics.ProjectsExported)
	assert.Equal(t, 1, report.Statistics.ProjectsFailed)
	assert.Zero(t, report.Statistics.TotalSizeBytes)
}

func TestExporter_Run_ConnectionValidationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	exporter := newTestExporter(t, server.URL, Options{
		ExportDir:    t.TempDir(),
		PollInterval: time.Millisecond,
		PollAttempts: 1,
	})

	_, err := exporter.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, gitlab.StatusOf(err))
}

func TestOptions_ApplyDefaults(t *testing.T) {
	opts := Options{}
	opts.applyDefaults()

	assert.Equal(t, 5, opts.MaxConcurrentDownloads)
	assert.Equal(t, 10, opts.MaxConcurrentAPICalls)
	assert.Equal(t, 5*time.Second, opts.PollInterval)
	assert.Equal(t, 120, opts.PollAttempts)
	assert.Equal(t, logrus.InfoLevel, opts.LogLevel)
}
