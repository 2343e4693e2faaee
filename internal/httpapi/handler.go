package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"deepresearch/internal/core/domain/aggregate"
	"deepresearch/internal/core/ports"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type handler struct {
	store ports.EventStore
	log   *zap.SugaredLogger
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sessionSummary is the listing projection; ports.SessionSummary is reused
// rather than redeclared since it already matches this shape.
func summaryOf(state *aggregate.ResearchState) ports.SessionSummary {
	return ports.SessionSummary{
		ID:          state.ID,
		Query:       state.Query,
		Mode:        state.Mode,
		Status:      state.Status,
		Progress:    state.Progress,
		TotalCost:   state.Cost.TotalCostUSD,
		CreatedAt:   state.CreatedAt,
		WorkerCount: len(state.Workers),
	}
}

func (h *handler) listSessions(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := h.store.GetAllAggregateIDs(ctx)
	if err != nil {
		h.log.Errorw("list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}

	summaries := make([]ports.SessionSummary, 0, len(ids))
	for _, id := range ids {
		state, err := h.loadState(ctx, id)
		if err != nil {
			h.log.Warnw("skipping unreadable session", "session_id", id, "error", err)
			continue
		}
		summaries = append(summaries, summaryOf(state))
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	c.JSON(http.StatusOK, gin.H{"sessions": summaries})
}

func (h *handler) getSession(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	state, err := h.loadState(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *handler) getEvents(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	rawEvents, err := h.store.LoadEvents(ctx, id)
	if err != nil || len(rawEvents) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	out := make([]gin.H, 0, len(rawEvents))
	for _, e := range rawEvents {
		out = append(out, gin.H{
			"id":           e.GetID(),
			"aggregate_id": e.GetAggregateID(),
			"version":      e.GetVersion(),
			"type":         e.GetType(),
			"timestamp":    e.GetTimestamp(),
			"data":         e,
		})
	}

	c.JSON(http.StatusOK, gin.H{"events": out})
}

// loadState replays an aggregate's full event stream into its current
// state. It never writes: this package only ever calls LoadEvents and
// GetAllAggregateIDs on the store, never AppendEvents.
func (h *handler) loadState(ctx context.Context, id string) (*aggregate.ResearchState, error) {
	rawEvents, err := h.store.LoadEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rawEvents) == 0 {
		return nil, fmt.Errorf("session not found: %s", id)
	}

	eventInterfaces := make([]interface{}, len(rawEvents))
	for i, e := range rawEvents {
		eventInterfaces[i] = e
	}
	return aggregate.LoadFromEvents(id, eventInterfaces)
}
