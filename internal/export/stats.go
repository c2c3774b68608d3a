package export

import (
	"sync"
	"time"

	"github.com/mirrorops/gitlab-exporter/internal/models"
)

// Stats aggregates the counters mutated by concurrently running export
// jobs. A single mutex guards the whole struct; update frequency is low
// compared to the I/O latency around each update.
type Stats struct {
	mu sync.Mutex

	projectsExported int
	projectsFailed   int
	wikisExported    int
	snippetsExported int
	totalSize        int64
	retries          int
	startTime        time.Time
}

// NewStats creates a stats aggregator with the clock started now.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) AddExported() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectsExported++
}

func (s *Stats) AddFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectsFailed++
}

func (s *Stats) AddWiki() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wikisExported++
}

func (s *Stats) AddSnippet() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snippetsExported++
}

func (s *Stats) AddBytes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalSize += n
}

func (s *Stats) AddRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
}

// Elapsed returns the wall-clock time since the aggregator was created.
// Computed on demand, never cached.
func (s *Stats) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startTime)
}

// SuccessRate returns exported/(exported+failed) as a percentage, or 0
// when no project has reached a terminal state yet.
func (s *Stats) SuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successRateLocked()
}

func (s *Stats) successRateLocked() float64 {
	total := s.projectsExported + s.projectsFailed
	if total == 0 {
		return 0
	}
	return float64(s.projectsExported) / float64(total) * 100
}

// Snapshot returns a consistent copy of all counters and derived values
// for the report and the status API.
func (s *Stats) Snapshot() models.ReportStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.ReportStats{
		ProjectsExported: s.projectsExported,
		ProjectsFailed:   s.projectsFailed,
		WikisExported:    s.wikisExported,
		SnippetsExported: s.snippetsExported,
		TotalSizeBytes:   s.totalSize,
		TotalSizeGB:      float64(s.totalSize) / 1024 / 1024 / 1024,
		ElapsedSeconds:   time.Since(s.startTime).Seconds(),
		SuccessRate:      s.successRateLocked(),
		Retries:          s.retries,
	}
}
