package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/mirrorops/gitlab-exporter/internal/models"
)

// perPage is the page size used for every paginated listing.
const perPage = 100

// Client is a rate-limited client for the GitLab REST API (v4). Every
// request goes through the retry policy, so HTTP 429 responses are
// backed off and retried transparently; all other statuses are the
// caller's problem.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
	retry   RetryPolicy
}

// ClientOption allows configuring the client.
type ClientOption func(*Client)

// WithRetryPolicy overrides the default 429 retry behavior.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a client for one GitLab instance. The token is sent
// as a bearer token; GitLab accepts personal access tokens this way.
func NewClient(baseURL, token string, logger *logrus.Logger, opts ...ClientOption) *Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = 120 * time.Second

	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		logger:  logger,
		retry:   DefaultRetryPolicy(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// OnRetry registers a callback fired on every 429 retry. The exporter
// uses it to feed the shared retry counter.
func (c *Client) OnRetry(fn func()) {
	c.retry.OnRetry = fn
}

func (c *Client) apiURL(path string) string {
	return c.baseURL + "/api/v4" + path
}

// do performs a request with 429 backoff. The request is rebuilt on every
// attempt; none of our requests carry a body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, header http.Header) (*http.Response, error) {
	reqURL := c.apiURL(path)
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	return c.retry.Do(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, NewAPIError(0, "request failed", err)
		}
		return resp, nil
	}, RetryableStatus)
}

// getJSON performs a GET and decodes a 200 response into result.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, result interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewAPIError(resp.StatusCode, "failed to read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return NewAPIError(resp.StatusCode, string(body), nil)
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return NewAPIError(resp.StatusCode, "failed to decode response", err)
		}
	}
	return nil
}

// CurrentUser returns the authenticated user. Used for connection
// validation before anything else touches the instance.
func (c *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.getJSON(ctx, "/user", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Version returns the GitLab product version of the instance.
func (c *Client) Version(ctx context.Context) (*models.Version, error) {
	var version models.Version
	if err := c.getJSON(ctx, "/version", nil, &version); err != nil {
		return nil, err
	}
	return &version, nil
}

// ListProjectsPage fetches one page of the membership project listing,
// ordered by ascending id for deterministic pagination. It returns the
// page's projects and the next page number taken from the X-Next-Page
// header, or 0 when this was the last page.
func (c *Client) ListProjectsPage(ctx context.Context, page int, includeArchived bool) ([]*models.Project, int, error) {
	if page < 1 {
		return nil, 0, NewValidationError("page", strconv.Itoa(page))
	}

	query := url.Values{}
	query.Set("membership", "true")
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("page", strconv.Itoa(page))
	query.Set("order_by", "id")
	query.Set("sort", "asc")
	query.Set("statistics", "true")
	if !includeArchived {
		query.Set("archived", "false")
	}

	resp, err := c.do(ctx, http.MethodGet, "/projects", query, nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, NewAPIError(resp.StatusCode, "failed to read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, NewAPIError(resp.StatusCode, string(body), nil)
	}

	var projects []*models.Project
	if err := json.Unmarshal(body, &projects); err != nil {
		return nil, 0, NewAPIError(resp.StatusCode, "failed to decode response", err)
	}

	nextPage := 0
	if next := resp.Header.Get("X-Next-Page"); next != "" {
		nextPage, _ = strconv.Atoi(next)
	}
	return projects, nextPage, nil
}

// TriggerExport asks the instance to start building an export archive
// for the project. 200 and 202 both mean the export is underway.
func (c *Client) TriggerExport(ctx context.Context, projectID int64) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%d/export", projectID), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return NewAPIError(resp.StatusCode, string(body), nil)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// ExportStatus polls the export state of a project. The interesting
// values of the returned status are "finished" and "failed"; anything
// else means the export is still being prepared.
func (c *Client) ExportStatus(ctx context.Context, projectID int64) (string, error) {
	var status struct {
		ExportStatus string `json:"export_status"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/projects/%d/export", projectID), nil, &status); err != nil {
		return "", err
	}
	return status.ExportStatus, nil
}

// ExportDownloadRequest opens the export archive download, optionally
// resuming from offset via a Range header. The caller owns the response
// body and is responsible for validating the status code (200 or 206
// mean success) and closing it.
func (c *Client) ExportDownloadRequest(ctx context.Context, projectID int64, offset int64) (*http.Response, error) {
	var header http.Header
	if offset > 0 {
		header = http.Header{}
		header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%d/export/download", projectID), nil, header)
}
