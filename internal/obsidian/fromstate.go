package obsidian

import (
	"sort"
	"time"

	"deepresearch/internal/core/domain/aggregate"
	"deepresearch/internal/session"
)

// FromResearchState projects an event-sourced ResearchState into the legacy
// session.Session shape the vault Writer understands, so a finished run can
// still land in Obsidian without teaching the serializer the event-sourced
// model directly.
func FromResearchState(state *aggregate.ResearchState) *session.Session {
	mode := session.ModeFast
	if state.Mode == "deep" {
		mode = session.ModeDeep
	}

	sess := &session.Session{
		ID:        state.ID,
		Version:   state.Version,
		Query:     state.Query,
		Mode:      mode,
		CreatedAt: state.CreatedAt,
		UpdatedAt: state.CreatedAt,
		Status:    session.SessionStatus(state.Status),
		Cost: session.CostBreakdown{
			InputTokens:  state.Cost.InputTokens,
			OutputTokens: state.Cost.OutputTokens,
			TotalTokens:  state.Cost.TotalTokens,
			TotalCost:    state.Cost.TotalCostUSD,
		},
	}
	if state.CompletedAt != nil {
		sess.UpdatedAt = *state.CompletedAt
	}
	if state.Report != nil {
		sess.Report = state.Report.FullContent
	}

	seenSources := make(map[string]bool)
	for _, w := range orderedWorkers(state) {
		worker := session.WorkerContext{
			ID:          w.ID,
			WorkerNum:   w.WorkerNum,
			Objective:   w.Objective,
			FinalOutput: w.Output,
			Status:      session.WorkerStatus(w.Status),
			Error:       w.Error,
			StartedAt:   startedAt(w.StartedAt),
			CompletedAt: w.CompletedAt,
			Cost: session.CostBreakdown{
				InputTokens:  w.Cost.InputTokens,
				OutputTokens: w.Cost.OutputTokens,
				TotalTokens:  w.Cost.TotalTokens,
				TotalCost:    w.Cost.TotalCostUSD,
			},
		}
		for _, src := range w.Sources {
			worker.Sources = append(worker.Sources, src.URL)
			if !seenSources[src.URL] {
				seenSources[src.URL] = true
				sess.Sources = append(sess.Sources, src.URL)
			}
		}
		sess.Workers = append(sess.Workers, worker)
	}

	return sess
}

func startedAt(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// orderedWorkers returns workers sorted by worker number, then ID, so the
// vault note lists the original search fan-out before any later gap-filler
// workers (which reuse worker numbers starting at 1000) in a stable order
// regardless of Go's randomized map iteration.
func orderedWorkers(state *aggregate.ResearchState) []*aggregate.WorkerState {
	workers := make([]*aggregate.WorkerState, 0, len(state.Workers))
	for _, w := range state.Workers {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool {
		if workers[i].WorkerNum != workers[j].WorkerNum {
			return workers[i].WorkerNum < workers[j].WorkerNum
		}
		return workers[i].ID < workers[j].ID
	})
	return workers
}
