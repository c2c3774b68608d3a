package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mirrorops/gitlab-exporter/internal/models"
)

// ListWikis returns the wiki page index of a project (without page
// content; content is fetched per slug).
func (c *Client) ListWikis(ctx context.Context, projectID int64) ([]models.WikiPage, error) {
	var pages []models.WikiPage
	if err := c.getJSON(ctx, fmt.Sprintf("/projects/%d/wikis", projectID), nil, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// GetWikiPage returns one wiki page including its rendered content.
func (c *Client) GetWikiPage(ctx context.Context, projectID int64, slug string) (*models.WikiPage, error) {
	if slug == "" {
		return nil, NewValidationError("slug", slug)
	}
	var page models.WikiPage
	path := fmt.Sprintf("/projects/%d/wikis/%s", projectID, url.PathEscape(slug))
	if err := c.getJSON(ctx, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListSnippets returns a project's snippets as raw JSON objects so the
// full metadata can be persisted verbatim alongside the parsed fields.
func (c *Client) ListSnippets(ctx context.Context, projectID int64) ([]json.RawMessage, error) {
	var snippets []json.RawMessage
	if err := c.getJSON(ctx, fmt.Sprintf("/projects/%d/snippets", projectID), nil, &snippets); err != nil {
		return nil, err
	}
	return snippets, nil
}

// SnippetContent returns the raw content of one snippet.
func (c *Client) SnippetContent(ctx context.Context, projectID, snippetID int64) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%d/snippets/%d/raw", projectID, snippetID), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewAPIError(resp.StatusCode, "failed to read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewAPIError(resp.StatusCode, string(body), nil)
	}
	return body, nil
}

// ListIssuesPage fetches one page of a project's issues as raw JSON.
func (c *Client) ListIssuesPage(ctx context.Context, projectID int64, page int) ([]json.RawMessage, error) {
	return c.listMetadataPage(ctx, fmt.Sprintf("/projects/%d/issues", projectID), page)
}

// ListMergeRequestsPage fetches one page of a project's merge requests
// as raw JSON.
func (c *Client) ListMergeRequestsPage(ctx context.Context, projectID int64, page int) ([]json.RawMessage, error) {
	return c.listMetadataPage(ctx, fmt.Sprintf("/projects/%d/merge_requests", projectID), page)
}

func (c *Client) listMetadataPage(ctx context.Context, path string, page int) ([]json.RawMessage, error) {
	if page < 1 {
		return nil, NewValidationError("page", strconv.Itoa(page))
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	var items []json.RawMessage
	if err := c.getJSON(ctx, path, query, &items); err != nil {
		return nil, err
	}
	return items, nil
}
