package db

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mirrorops/gitlab-exporter/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists finished export reports so past runs stay queryable
// after the process exits. The store is optional: the exporter runs fine
// with no database configured.
type Store interface {
	SaveReport(ctx context.Context, report *models.ExportReport) error
	ListReports(ctx context.Context, instance string, limit int) ([]*models.ExportReport, error)
	Close() error
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings the database.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate brings the schema up to date using the embedded migrations.
func (s *PostgresStore) Migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveReport inserts one finished report. Reports are immutable; a
// duplicate run id is a caller bug and surfaces as a constraint error.
func (s *PostgresStore) SaveReport(ctx context.Context, report *models.ExportReport) error {
	stats, err := json.Marshal(report.Statistics)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}
	failed, err := json.Marshal(report.FailedProjects)
	if err != nil {
		return fmt.Errorf("failed to marshal failed projects: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO export_reports (run_id, instance, url, export_date, statistics, failed_projects)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		report.RunID,
		report.Instance,
		report.URL,
		report.ExportDate,
		stats,
		failed)
	if err != nil {
		return fmt.Errorf("failed to save export report: %w", err)
	}
	return nil
}

// ListReports returns the most recent reports, newest first, optionally
// filtered by instance name.
func (s *PostgresStore) ListReports(ctx context.Context, instance string, limit int) ([]*models.ExportReport, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT run_id, instance, url, export_date, statistics, failed_projects
		FROM export_reports`
	args := []interface{}{}
	if instance != "" {
		query += ` WHERE instance = $1`
		args = append(args, instance)
	}
	query += fmt.Sprintf(` ORDER BY export_date DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list export reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.ExportReport
	for rows.Next() {
		var (
			report models.ExportReport
			stats  []byte
			failed []byte
		)
		if err := rows.Scan(&report.RunID, &report.Instance, &report.URL, &report.ExportDate, &stats, &failed); err != nil {
			return nil, fmt.Errorf("failed to scan export report: %w", err)
		}
		if err := json.Unmarshal(stats, &report.Statistics); err != nil {
			return nil, fmt.Errorf("failed to decode statistics: %w", err)
		}
		if err := json.Unmarshal(failed, &report.FailedProjects); err != nil {
			return nil, fmt.Errorf("failed to decode failed projects: %w", err)
		}
		reports = append(reports, &report)
	}
	return reports, rows.Err()
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
