package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExportReport is the immutable summary written once per instance run,
// after every project job and instance-wide pass has reached a terminal
// state.
type ExportReport struct {
	RunID          string      `json:"run_id"`
	Instance       string      `json:"instance"`
	URL            string      `json:"url"`
	ExportDate     time.Time   `json:"export_date"`
	Statistics     ReportStats `json:"statistics"`
	FailedProjects []string    `json:"failed_projects"`
}

// ReportStats is the aggregated statistics snapshot embedded in a report.
type ReportStats struct {
	TotalProjects    int     `json:"total_projects"`
	ProjectsExported int     `json:"projects_exported"`
	ProjectsFailed   int     `json:"projects_failed"`
	WikisExported    int     `json:"wikis_exported"`
	SnippetsExported int     `json:"snippets_exported"`
	TotalSizeBytes   int64   `json:"total_size_bytes"`
	TotalSizeGB      float64 `json:"total_size_gb"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	SuccessRate      float64 `json:"success_rate"`
	Retries          int     `json:"retries"`
}

// String returns the JSON representation of the report.
func (r *ExportReport) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal export report: %v"}`, err)
	}
	return string(data)
}
