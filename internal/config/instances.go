package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mirrorops/gitlab-exporter/internal/models"
)

// LoadInstances resolves the (name, url, token) tuples to export from.
// A single instance can be supplied directly through GITLAB_URL and
// GITLAB_TOKEN; otherwise the JSON instances file is read. How tokens
// got into either place (encrypted store, secret manager) is not this
// layer's concern — it only hands resolved credentials to the exporter.
func LoadInstances(cfg *Config) ([]*models.Instance, error) {
	if url := os.Getenv("GITLAB_URL"); url != "" {
		token := os.Getenv("GITLAB_TOKEN")
		if token == "" {
			return nil, fmt.Errorf("GITLAB_URL is set but GITLAB_TOKEN is empty")
		}
		name := getEnv("GITLAB_NAME", "gitlab")
		return []*models.Instance{{Name: name, URL: url, Token: token}}, nil
	}

	data, err := os.ReadFile(cfg.InstancesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read instances file %s: %w", cfg.InstancesFile, err)
	}

	var file struct {
		Instances []struct {
			Name  string `json:"name"`
			URL   string `json:"url"`
			Token string `json:"token"`
		} `json:"instances"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse instances file %s: %w", cfg.InstancesFile, err)
	}

	instances := make([]*models.Instance, 0, len(file.Instances))
	seen := make(map[string]bool)
	for _, in := range file.Instances {
		if in.Name == "" || in.URL == "" || in.Token == "" {
			return nil, fmt.Errorf("instances file %s: every instance needs name, url and token", cfg.InstancesFile)
		}
		if seen[in.Name] {
			return nil, fmt.Errorf("instances file %s: duplicate instance name %q", cfg.InstancesFile, in.Name)
		}
		seen[in.Name] = true
		instances = append(instances, &models.Instance{
			Name:  in.Name,
			URL:   in.URL,
			Token: in.Token,
		})
	}

	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances configured (set GITLAB_URL/GITLAB_TOKEN or provide %s)", cfg.InstancesFile)
	}
	return instances, nil
}
