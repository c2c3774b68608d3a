package api

import (
	"sync"

	"github.com/mirrorops/gitlab-exporter/internal/models"
)

// Run states exposed by the status API.
const (
	RunStateRunning   = "running"
	RunStateCompleted = "completed"
	RunStateFailed    = "failed"
)

// ExportStatus is the live view of one instance's export run.
type ExportStatus struct {
	Instance   string             `json:"instance"`
	RunID      string             `json:"run_id"`
	RunDir     string             `json:"run_dir"`
	State      string             `json:"state"`
	Statistics models.ReportStats `json:"statistics"`
}

type registeredRun struct {
	instance string
	runID    string
	runDir   string
	state    string
	snapshot func() models.ReportStats
}

// Registry is the shared map between running exporters and the status
// handler. Exporters register themselves before starting and update
// their state at the end; the handler only ever reads snapshots.
type Registry struct {
	mu    sync.RWMutex
	runs  map[string]*registeredRun
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*registeredRun)}
}

// Register adds (or replaces) an instance's run. snapshot must be safe
// to call concurrently with the run.
func (r *Registry) Register(instance, runID, runDir string, snapshot func() models.ReportStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[instance]; !exists {
		r.order = append(r.order, instance)
	}
	r.runs[instance] = &registeredRun{
		instance: instance,
		runID:    runID,
		runDir:   runDir,
		state:    RunStateRunning,
		snapshot: snapshot,
	}
}

// SetState records an instance run's terminal state.
func (r *Registry) SetState(instance, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[instance]; ok {
		run.state = state
	}
}

// Status returns the live status of one instance.
func (r *Registry) Status(instance string) (ExportStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[instance]
	if !ok {
		return ExportStatus{}, false
	}
	return run.status(), true
}

// All returns every registered run in registration order.
func (r *Registry) All() []ExportStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]ExportStatus, 0, len(r.order))
	for _, name := range r.order {
		statuses = append(statuses, r.runs[name].status())
	}
	return statuses
}

func (run *registeredRun) status() ExportStatus {
	return ExportStatus{
		Instance:   run.instance,
		RunID:      run.runID,
		RunDir:     run.runDir,
		State:      run.state,
		Statistics: run.snapshot(),
	}
}
