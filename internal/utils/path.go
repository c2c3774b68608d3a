package utils

import (
	"fmt"
	"strings"
)

// SanitizeProjectPath flattens a path_with_namespace into a single file
// name component, replacing "/" with "_".
func SanitizeProjectPath(pathWithNamespace string) string {
	return strings.ReplaceAll(pathWithNamespace, "/", "_")
}

// FormatSize renders a byte count as a human-readable string.
func FormatSize(bytes int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.2f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
