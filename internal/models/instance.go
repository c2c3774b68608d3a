package models

// Instance identifies one GitLab host being exported from.
//
// Name, URL and Token are set at credential-resolution time and are
// read-only afterwards. The discovered fields (Username, Email, Version)
// are filled in once after a successful connection check.
type Instance struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"-"`

	Username      string `json:"username,omitempty"`
	Email         string `json:"email,omitempty"`
	Version       string `json:"version,omitempty"`
	ProjectsCount int    `json:"projects_count,omitempty"`
}
