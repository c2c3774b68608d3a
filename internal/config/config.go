package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries everything the exporter reads from the environment.
type Config struct {
	ExportDir              string
	InstancesFile          string
	MaxConcurrentDownloads int
	MaxConcurrentAPICalls  int
	MaxRetries             int
	BackoffBase            time.Duration
	PollInterval           time.Duration
	PollAttempts           int
	IncludeArchived        bool
	ExportWikis            bool
	ExportSnippets         bool
	ExportMetadata         bool
	StatusAddr             string
	DBConnectionString     string
	LogLevel               string
}

// Load reads the configuration from environment variables, applying the
// documented defaults. The export stuck-poll budget (interval and
// attempts) is configurable because it materially affects throughput on
// slow instances.
func Load() (*Config, error) {
	maxDownloads, err := getEnvInt("MAX_CONCURRENT_DOWNLOADS", 5)
	if err != nil {
		return nil, err
	}
	maxAPICalls, err := getEnvInt("MAX_CONCURRENT_API_CALLS", 10)
	if err != nil {
		return nil, err
	}
	maxRetries, err := getEnvInt("MAX_RETRIES", 5)
	if err != nil {
		return nil, err
	}
	backoffBase, err := getEnvInt("BACKOFF_BASE_SECONDS", 1)
	if err != nil {
		return nil, err
	}
	pollInterval, err := getEnvInt("EXPORT_POLL_INTERVAL_SECONDS", 5)
	if err != nil {
		return nil, err
	}
	pollAttempts, err := getEnvInt("EXPORT_POLL_ATTEMPTS", 120)
	if err != nil {
		return nil, err
	}

	return &Config{
		ExportDir:              getEnv("EXPORT_DIR", "exports"),
		InstancesFile:          getEnv("INSTANCES_FILE", "instances.json"),
		MaxConcurrentDownloads: maxDownloads,
		MaxConcurrentAPICalls:  maxAPICalls,
		MaxRetries:             maxRetries,
		BackoffBase:            time.Duration(backoffBase) * time.Second,
		PollInterval:           time.Duration(pollInterval) * time.Second,
		PollAttempts:           pollAttempts,
		IncludeArchived:        getEnvBool("INCLUDE_ARCHIVED", false),
		ExportWikis:            getEnvBool("EXPORT_WIKIS", true),
		ExportSnippets:         getEnvBool("EXPORT_SNIPPETS", true),
		ExportMetadata:         getEnvBool("EXPORT_METADATA", true),
		StatusAddr:             getEnv("STATUS_ADDR", ""),
		DBConnectionString:     getEnv("EXPORT_DB_URL", ""),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
