// Package aggregate contains the aggregate roots for the domain.
// ResearchState is the aggregate root for research sessions.
package aggregate

import (
	"fmt"
	"sync"
	"time"

	"deepresearch/internal/core/domain/events"
)

// gapFillWorkerNumBase is the worker-number offset the orchestrator assigns
// to gap-filling searches, mirroring session.WorkerContext's convention, so
// a worker spawned to chase a knowledge gap is distinguishable from the
// original perspective fan-out (worker numbers 1..N) without a dedicated
// field on the event stream.
const gapFillWorkerNumBase = 1000

// ResearchState is the aggregate root for a single research run: a query
// moves through planning, a fan-out of per-perspective search workers,
// cross-validation, and synthesis, with every transition replayable from
// the event stream that produced it.
type ResearchState struct {
	mu sync.RWMutex

	// Identity
	ID        string
	Version   int
	CreatedAt time.Time

	// Research configuration
	Query  string
	Mode   string // "fast" or "deep"
	Config events.ResearchConfig

	// Current status
	Status   string  // "pending", "planning", "searching", "analyzing", "synthesizing", "complete", "failed", "cancelled"
	Progress float64 // Overall progress 0.0-1.0

	// Planning state
	Plan *PlanState

	// Execution state
	DAG     *DAGState
	Workers map[string]*WorkerState

	// Analysis state
	Analysis *AnalysisState

	// Synthesis state
	Report *ReportState

	// Cost tracking
	Cost events.CostBreakdown

	// Timing
	StartedAt   *time.Time
	CompletedAt *time.Time

	// Event tracking
	uncommittedEvents []interface{}
}

// PlanState holds the research plan.
type PlanState struct {
	Topic        string
	Perspectives []events.Perspective
}

// DAGState holds the execution DAG.
type DAGState struct {
	Nodes map[string]*DAGNode
}

// DAGNode represents a task in the execution graph.
type DAGNode struct {
	ID           string
	TaskType     string
	Description  string
	Dependencies []string
	Status       string // "pending", "running", "complete", "failed"
	Result       interface{}
	Error        *string
}

// WorkerState tracks a worker's execution.
type WorkerState struct {
	ID          string
	WorkerNum   int
	Objective   string
	Perspective string
	Status      string
	Output      string
	Facts       []events.Fact
	Sources     []events.Source
	Cost        events.CostBreakdown
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string
}

// IsGapFiller reports whether this worker was spawned during the gap-filling
// pass rather than the original perspective-driven search fan-out.
func (w *WorkerState) IsGapFiller() bool {
	return w.WorkerNum >= gapFillWorkerNumBase
}

// AnalysisState holds analysis results.
type AnalysisState struct {
	ValidatedFacts []events.ValidatedFact
	Contradictions []events.Contradiction
	KnowledgeGaps  []events.KnowledgeGap
	Cost           events.CostBreakdown
}

// ReportState holds the final report.
type ReportState struct {
	Title       string
	Summary     string
	FullContent string
	Citations   []events.Citation
	Cost        events.CostBreakdown
}

// NewResearchState creates a new empty state.
func NewResearchState(id string) *ResearchState {
	return &ResearchState{
		ID:        id,
		Version:   0,
		CreatedAt: time.Now(),
		Status:    "pending",
		Workers:   make(map[string]*WorkerState),
		Cost:      events.CostBreakdown{},
	}
}

// LoadFromEvents reconstructs state by replaying events.
func LoadFromEvents(id string, eventStream []interface{}) (*ResearchState, error) {
	state := NewResearchState(id)

	for _, event := range eventStream {
		state.Apply(event)
	}

	// Clear uncommitted since we're loading from store
	state.uncommittedEvents = nil

	return state, nil
}

// GetUncommittedEvents returns events not yet persisted.
func (s *ResearchState) GetUncommittedEvents() []interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]interface{}{}, s.uncommittedEvents...)
}

// ClearUncommittedEvents marks events as persisted.
func (s *ResearchState) ClearUncommittedEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uncommittedEvents = nil
}

// GetVersion returns the current aggregate version.
func (s *ResearchState) GetVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Version
}

// GetStatus returns the current status.
func (s *ResearchState) GetStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// countSources counts the distinct source URLs cited across all workers.
// The same URL often surfaces from more than one perspective's search, so a
// raw sum over worker.Sources would overstate how much of the web the run
// actually drew from.
func (s *ResearchState) countSources() int {
	seen := make(map[string]bool)
	for _, w := range s.Workers {
		for _, src := range w.Sources {
			seen[src.URL] = true
		}
	}
	return len(seen)
}

// countGapFillers counts workers spawned during gap-filling, for reporting
// on ResearchCompletedEvent.
func (s *ResearchState) countGapFillers() int {
	count := 0
	for _, w := range s.Workers {
		if w.IsGapFiller() {
			count++
		}
	}
	return count
}

// updateProgress calculates overall progress from DAG state. A failed node
// still stops contributing pending work to the run, so it counts toward
// completion the same as a successful one; otherwise a single failed
// perspective would pin Progress below 1.0 even after the run finishes.
func (s *ResearchState) updateProgress() {
	if s.DAG == nil {
		return
	}
	total := len(s.DAG.Nodes)
	finished := 0
	for _, node := range s.DAG.Nodes {
		if node.Status == "complete" || node.Status == "failed" {
			finished++
		}
	}
	if total > 0 {
		s.Progress = float64(finished) / float64(total)
	}
}

// reconstructDAG builds DAGState from a snapshot.
func reconstructDAG(snapshot events.DAGSnapshot) *DAGState {
	dag := &DAGState{
		Nodes: make(map[string]*DAGNode),
	}
	for _, n := range snapshot.Nodes {
		dag.Nodes[n.ID] = &DAGNode{
			ID:           n.ID,
			TaskType:     n.TaskType,
			Description:  n.Description,
			Dependencies: n.Dependencies,
			Status:       n.Status,
		}
	}
	return dag
}

// initializeWorkers creates worker states from perspectives.
func (s *ResearchState) initializeWorkers(perspectives []events.Perspective, dag events.DAGSnapshot) {
	for i, p := range perspectives {
		workerID := fmt.Sprintf("search_%d", i)
		s.Workers[workerID] = &WorkerState{
			ID:          workerID,
			WorkerNum:   i + 1,
			Objective:   p.Focus,
			Perspective: p.Name,
			Status:      "pending",
			Facts:       []events.Fact{},
			Sources:     []events.Source{},
		}
	}
}
