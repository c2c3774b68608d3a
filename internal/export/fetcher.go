package export

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mirrorops/gitlab-exporter/internal/models"
)

// fetchAllProjects walks the paginated project listing, accumulating
// pages in the order received. Each page fetch holds one API-class slot
// for the duration of that single request. A failed page logs the error
// and returns whatever was accumulated so far: callers treat a truncated
// list as a best-effort snapshot, never as a crash condition.
func (e *Exporter) fetchAllProjects(ctx context.Context) []*models.Project {
	var projects []*models.Project
	page := 1

	for {
		if err := e.coord.API.Acquire(ctx); err != nil {
			return projects
		}
		items, next, err := e.client.ListProjectsPage(ctx, page, e.opts.IncludeArchived)
		e.coord.API.Release()

		if err != nil {
			e.logger.WithError(err).WithField("page", page).Error("Failed to fetch projects page")
			break
		}
		if len(items) == 0 {
			break
		}

		projects = append(projects, items...)
		e.logger.WithFields(logrus.Fields{
			"page":     page,
			"fetched":  len(items),
			"projects": len(projects),
		}).Info("Fetched projects page")

		if next == 0 {
			break
		}
		page = next
	}

	return projects
}
