// Package tools implements the Tool Registry (C2): search, fetch and
// parse_file behind a uniform invocation contract with per-call timeouts
// and per-host rate limiting.
package tools

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deepresearch/internal/events"
	"deepresearch/internal/logging"
)

// Tool is one registered capability.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Executor is the narrow interface agents depend on (mockable in tests).
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) (string, error)
	ToolNames() []string
}

// ToolExecutor is the name agents historically depend on for Executor.
type ToolExecutor = Executor

// Config configures registry-wide defaults.
type Config struct {
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	BlacklistHosts []string
}

// DefaultConfig returns the tool layer's default timeouts and limits.
func DefaultConfig() Config {
	return Config{
		Timeout:        20 * time.Second,
		RateLimitRPS:   5,
		RateLimitBurst: 10,
	}
}

// Registry dispatches tool invocations, enforcing a per-call timeout and
// emitting ToolCall/ToolResult events with a correlation ID.
type Registry struct {
	tools  map[string]Tool
	cfg    Config
	bus    *events.Bus
	worker int
	log    *zap.SugaredLogger
}

// NewRegistry wires the three spec tools: search, fetch, parse_file.
func NewRegistry(searchAPIKey string, bus *events.Bus, cfg Config) *Registry {
	if cfg.Timeout == 0 {
		cfg = DefaultConfig()
	}
	limiters := newHostLimiters(cfg.RateLimitRPS, cfg.RateLimitBurst)
	breakers := newHostBreakers()
	blacklist := make(map[string]bool, len(cfg.BlacklistHosts))
	for _, h := range cfg.BlacklistHosts {
		blacklist[h] = true
	}

	r := &Registry{tools: make(map[string]Tool), cfg: cfg, bus: bus, log: logging.Noop()}
	r.register(NewSearchTool(searchAPIKey, limiters, blacklist))
	r.register(NewFetchTool(limiters, breakers))
	r.register(NewParseFileTool())
	return r
}

// WithWorker returns a shallow copy of the registry tagged with a worker
// number, used so ToolCall/ToolResult events carry the emitting worker.
func (r *Registry) WithWorker(workerNum int) *Registry {
	cp := *r
	cp.worker = workerNum
	return &cp
}

// WithLogger returns a shallow copy of the registry logging tool
// invocations through log instead of the default no-op sink.
func (r *Registry) WithLogger(log *zap.SugaredLogger) *Registry {
	cp := *r
	cp.log = log
	return &cp
}

func (r *Registry) register(t Tool) { r.tools[t.Name()] = t }

// ToolNames lists the registered tool names.
func (r *Registry) ToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// Execute invokes a tool by name under the registry's default timeout,
// emitting ToolCall/ToolResult events tagged with an opaque correlation ID.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		r.log.Warnw("tool not registered", "tool", name)
		return "", newToolError(name, ErrKindUnknownTool, "not registered")
	}

	correlationID := uuid.NewString()
	r.log.Debugw("tool call", "correlation_id", correlationID, "tool", name, "worker", r.worker)
	if r.bus != nil {
		r.bus.Publish(events.Event{
			Type: events.EventToolCall,
			Data: events.ToolCallData{
				CorrelationID: correlationID,
				WorkerNum:     r.worker,
				Tool:          name,
				Args:          args,
			},
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	result, err := tool.Execute(callCtx, args)
	if err != nil {
		r.log.Warnw("tool call failed", "correlation_id", correlationID, "tool", name, "error", err)
	} else {
		r.log.Debugw("tool call succeeded", "correlation_id", correlationID, "tool", name, "result_len", len(result))
	}

	if r.bus != nil {
		preview := result
		if len(preview) > 200 {
			preview = preview[:200]
		}
		r.bus.Publish(events.Event{
			Type: events.EventToolResult,
			Data: events.ToolResultData{
				CorrelationID: correlationID,
				Tool:          name,
				Success:       err == nil,
				Preview:       preview,
			},
		})
	}

	return result, err
}
