package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/mirrorops/gitlab-exporter/internal/models"
)

// The instance-wide passes below run strictly after all project export
// jobs have finished, and sequentially relative to each other. Every
// remote call holds one API-class slot for the duration of that single
// request, trading throughput for reduced API load once the bulk of the
// concurrent work is done.

// exportWikis persists the wiki index and each page's content for every
// project with a wiki. Failures are per-project: logged and skipped.
func (e *Exporter) exportWikis(ctx context.Context, projects []*models.Project) {
	count := 0
	for _, project := range projects {
		if ctx.Err() != nil {
			return
		}
		if !project.WikiEnabled {
			continue
		}

		pages, err := e.gatedListWikis(ctx, project.ID)
		if err != nil {
			e.logger.WithError(err).WithField("project", project.PathWithNamespace).Error("Failed to list wiki pages")
			continue
		}
		if len(pages) == 0 {
			continue
		}

		wikiDir := e.projectDir("wikis", project)
		if err := os.MkdirAll(wikiDir, 0o755); err != nil {
			e.logger.WithError(err).WithField("project", project.PathWithNamespace).Error("Failed to create wiki directory")
			continue
		}
		if err := writeJSON(filepath.Join(wikiDir, "wiki_index.json"), pages); err != nil {
			e.logger.WithError(err).WithField("project", project.PathWithNamespace).Error("Failed to write wiki index")
			continue
		}

		for _, page := range pages {
			content, err := e.gatedWikiPage(ctx, project.ID, page.Slug)
			if err != nil {
				e.logger.WithError(err).WithFields(logrus.Fields{
					"project": project.PathWithNamespace,
					"slug":    page.Slug,
				}).Warn("Failed to fetch wiki page")
				continue
			}
			path := filepath.Join(wikiDir, page.Slug+".md")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				e.logger.WithError(err).WithField("path", path).Error("Failed to write wiki page")
			}
		}

		count++
		e.stats.AddWiki()
	}
	e.logger.WithField("wikis", count).Info("Wiki export complete")
}

// exportSnippets persists each snippet's raw content plus its full API
// metadata object.
func (e *Exporter) exportSnippets(ctx context.Context, projects []*models.Project) {
	count := 0
	for _, project := range projects {
		if ctx.Err() != nil {
			return
		}

		raws, err := e.gatedListSnippets(ctx, project.ID)
		if err != nil {
			e.logger.WithError(err).WithField("project", project.PathWithNamespace).Error("Failed to list snippets")
			continue
		}
		if len(raws) == 0 {
			continue
		}

		snippetDir := e.projectDir("snippets", project)
		if err := os.MkdirAll(snippetDir, 0o755); err != nil {
			e.logger.WithError(err).WithField("project", project.PathWithNamespace).Error("Failed to create snippet directory")
			continue
		}

		for _, raw := range raws {
			var snippet models.Snippet
			if err := json.Unmarshal(raw, &snippet); err != nil {
				e.logger.WithError(err).WithField("project", project.PathWithNamespace).Warn("Skipping undecodable snippet")
				continue
			}

			content, err := e.gatedSnippetContent(ctx, project.ID, snippet.ID)
			if err != nil {
				e.logger.WithError(err).WithFields(logrus.Fields{
					"project": project.PathWithNamespace,
					"snippet": snippet.ID,
				}).Warn("Failed to fetch snippet content")
				continue
			}

			name := fmt.Sprintf("%d_%s", snippet.ID, snippet.FileName)
			if err := os.WriteFile(filepath.Join(snippetDir, name), content, 0o644); err != nil {
				e.logger.WithError(err).WithField("snippet", snippet.ID).Error("Failed to write snippet content")
				continue
			}
			if err := writeJSON(filepath.Join(snippetDir, fmt.Sprintf("%d_metadata.json", snippet.ID)), raw); err != nil {
				e.logger.WithError(err).WithField("snippet", snippet.ID).Error("Failed to write snippet metadata")
				continue
			}

			count++
			e.stats.AddSnippet()
		}
	}
	e.logger.WithField("snippets", count).Info("Snippet export complete")
}

// exportMetadata persists issues and merge requests per project, each
// independently paginated and skipped when the feature is disabled.
func (e *Exporter) exportMetadata(ctx context.Context, projects []*models.Project) {
	for _, project := range projects {
		if ctx.Err() != nil {
			return
		}

		metaDir := e.projectDir("metadata", project)

		if project.IssuesEnabled {
			issues := e.fetchMetadataPages(ctx, project, "issues")
			if len(issues) > 0 {
				e.writeMetadata(metaDir, "issues.json", issues, project)
			}
		}
		if project.MergeRequestsEnabled {
			mrs := e.fetchMetadataPages(ctx, project, "merge_requests")
			if len(mrs) > 0 {
				e.writeMetadata(metaDir, "merge_requests.json", mrs, project)
			}
		}
	}
	e.logger.Info("Metadata export complete")
}

// fetchMetadataPages accumulates all pages of one metadata kind. A
// failed page stops pagination and keeps whatever was fetched so far.
func (e *Exporter) fetchMetadataPages(ctx context.Context, project *models.Project, kind string) []json.RawMessage {
	var items []json.RawMessage
	page := 1
	for {
		if err := e.coord.API.Acquire(ctx); err != nil {
			return items
		}
		var (
			pageItems []json.RawMessage
			err       error
		)
		switch kind {
		case "issues":
			pageItems, err = e.client.ListIssuesPage(ctx, project.ID, page)
		default:
			pageItems, err = e.client.ListMergeRequestsPage(ctx, project.ID, page)
		}
		e.coord.API.Release()

		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"project": project.PathWithNamespace,
				"kind":    kind,
				"page":    page,
			}).Error("Failed to fetch metadata page")
			return items
		}
		if len(pageItems) == 0 {
			return items
		}
		items = append(items, pageItems...)
		page++
	}
}

func (e *Exporter) writeMetadata(metaDir, name string, items []json.RawMessage, project *models.Project) {
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		e.logger.WithError(err).WithField("project", project.PathWithNamespace).Error("Failed to create metadata directory")
		return
	}
	if err := writeJSON(filepath.Join(metaDir, name), items); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"project": project.PathWithNamespace,
			"file":    name,
		}).Error("Failed to write metadata")
	}
}

// gated* helpers hold one API-class slot for a single request.

func (e *Exporter) gatedListWikis(ctx context.Context, projectID int64) ([]models.WikiPage, error) {
	if err := e.coord.API.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.coord.API.Release()
	return e.client.ListWikis(ctx, projectID)
}

func (e *Exporter) gatedWikiPage(ctx context.Context, projectID int64, slug string) (string, error) {
	if err := e.coord.API.Acquire(ctx); err != nil {
		return "", err
	}
	defer e.coord.API.Release()
	page, err := e.client.GetWikiPage(ctx, projectID, slug)
	if err != nil {
		return "", err
	}
	return page.Content, nil
}

func (e *Exporter) gatedListSnippets(ctx context.Context, projectID int64) ([]json.RawMessage, error) {
	if err := e.coord.API.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.coord.API.Release()
	return e.client.ListSnippets(ctx, projectID)
}

func (e *Exporter) gatedSnippetContent(ctx context.Context, projectID, snippetID int64) ([]byte, error) {
	if err := e.coord.API.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.coord.API.Release()
	return e.client.SnippetContent(ctx, projectID, snippetID)
}

// writeJSON marshals v with indentation and writes it to path. A
// json.RawMessage is re-indented rather than double-encoded.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
