package models

// Project is a single exportable project as returned by the GitLab API.
// The exporter never mutates projects; it only reads the fields needed
// for routing and output naming.
type Project struct {
	ID                   int64             `json:"id"`
	Name                 string            `json:"name"`
	PathWithNamespace    string            `json:"path_with_namespace"`
	WikiEnabled          bool              `json:"wiki_enabled"`
	IssuesEnabled        bool              `json:"issues_enabled"`
	MergeRequestsEnabled bool              `json:"merge_requests_enabled"`
	Archived             bool              `json:"archived"`
	Statistics           ProjectStatistics `json:"statistics"`
}

// ProjectStatistics carries the size figures returned when the project
// listing is requested with statistics=true.
type ProjectStatistics struct {
	RepositorySize int64 `json:"repository_size"`
	StorageSize    int64 `json:"storage_size"`
}

// WikiPage is one page of a project wiki.
type WikiPage struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Format  string `json:"format"`
	Content string `json:"content,omitempty"`
}

// Snippet is one project snippet. Content is fetched separately through
// the raw endpoint.
type Snippet struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	FileName string `json:"file_name"`
}

// User is the authenticated user returned by the connection check.
type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Version is the GitLab product version of an instance.
type Version struct {
	Version  string `json:"version"`
	Revision string `json:"revision"`
}
