package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"deepresearch/internal/agents"
	"deepresearch/internal/config"
	ctxmgr "deepresearch/internal/context"
	"deepresearch/internal/core/domain/aggregate"
	domainEvents "deepresearch/internal/core/domain/events"
	"deepresearch/internal/core/ports"
	"deepresearch/internal/events"
	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/planning"
	"deepresearch/internal/tools"
)

// DeepOrchestratorES is the event-sourced version of DeepOrchestrator.
// It persists all state changes as events for full interruptibility and resumability.
type DeepOrchestratorES struct {
	eventStore     ports.EventStore
	eventBus       *events.Bus // Keep existing bus for UI updates
	appConfig      *config.Config
	client         llm.ChatClient
	contextMgr     *ctxmgr.Manager
	planner        *planning.Planner
	searchAgent    *agents.SearchAgent
	analysisAgent  *agents.AnalysisAgent
	synthesisAgent *agents.SynthesisAgent
	tools          tools.ToolExecutor
	mode           config.Mode
	maxConcurrency int
	heavyFanout    int
	sem            chan struct{}
	log            *zap.SugaredLogger
}

// DeepOrchestratorESOption allows configuring the event-sourced orchestrator.
type DeepOrchestratorESOption func(*DeepOrchestratorES)

// WithESClient injects a custom LLM client (for testing).
func WithESClient(client llm.ChatClient) DeepOrchestratorESOption {
	return func(o *DeepOrchestratorES) {
		o.client = client
		o.planner = planning.NewPlannerWithTools(client, o.tools)
		o.searchAgent = agents.NewSearchAgent(client, o.tools, o.eventBus, agents.DefaultSearchConfig())
		o.analysisAgent = agents.NewAnalysisAgentWithBus(client, o.eventBus)
		o.synthesisAgent = agents.NewSynthesisAgentWithBus(client, o.eventBus)
	}
}

// WithESTools injects a custom tool executor (for testing). Rebuilds the
// search agent and planner so they see the substituted executor regardless
// of whether this option is applied before or after WithESClient.
func WithESTools(toolExec tools.ToolExecutor) DeepOrchestratorESOption {
	return func(o *DeepOrchestratorES) {
		o.tools = toolExec
		o.planner = planning.NewPlannerWithTools(o.client, o.tools)
		o.searchAgent = agents.NewSearchAgent(o.client, o.tools, o.eventBus, agents.DefaultSearchConfig())
	}
}

// WithESLogger overrides the structured logger (tests want a Noop logger
// instead of the default stderr JSON sink).
func WithESLogger(log *zap.SugaredLogger) DeepOrchestratorESOption {
	return func(o *DeepOrchestratorES) {
		o.log = log
	}
}

// NewDeepOrchestratorES creates a new event-sourced deep research orchestrator.
func NewDeepOrchestratorES(
	eventStore ports.EventStore,
	bus *events.Bus,
	cfg *config.Config,
	opts ...DeepOrchestratorESOption,
) *DeepOrchestratorES {
	log := logging.New(cfg.Verbose)

	var onCost llm.CostCallback
	client := newChatClient(cfg, onCost)
	toolCfg := tools.DefaultConfig()
	toolCfg.Timeout = cfg.ToolTimeout
	toolReg := tools.NewRegistry(cfg.SearchAPIKey, bus, toolCfg).WithLogger(log)

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}

	o := &DeepOrchestratorES{
		eventStore:     eventStore,
		eventBus:       bus,
		appConfig:      cfg,
		client:         client,
		contextMgr:     ctxmgr.New(client, ctxmgr.DefaultConfig()),
		planner:        planning.NewPlannerWithTools(client, toolReg),
		searchAgent:    agents.NewSearchAgent(client, toolReg, bus, agents.DefaultSearchConfig()),
		analysisAgent:  agents.NewAnalysisAgentWithBus(client, bus),
		synthesisAgent: agents.NewSynthesisAgentWithBus(client, bus),
		tools:          toolReg,
		mode:           cfg.Mode,
		maxConcurrency: maxConcurrency,
		heavyFanout:    cfg.HeavyFanout,
		sem:            make(chan struct{}, maxConcurrency),
		log:            log,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Research executes deep research with full event sourcing.
func (o *DeepOrchestratorES) Research(ctx context.Context, sessionID string, query string) (*aggregate.ResearchState, error) {
	o.log.Infow("research started", "session_id", sessionID, "query", query, "mode", o.mode)

	if o.mode == config.ModeDeep && o.heavyFanout > 1 {
		return o.researchHeavy(ctx, sessionID, query)
	}

	// Create or load state
	state, err := o.loadOrCreateState(ctx, sessionID, query)
	if err != nil {
		o.log.Errorw("failed to create research state", "session_id", sessionID, "error", err)
		return nil, err
	}

	// Execute from current state
	result, err := o.continueResearch(ctx, state)
	if err != nil {
		o.log.Errorw("research failed", "session_id", sessionID, "error", err)
	} else {
		o.log.Infow("research completed", "session_id", sessionID, "status", result.Status, "cost_usd", result.Cost.TotalCostUSD)
	}
	return result, err
}

// Resume continues an interrupted research session.
func (o *DeepOrchestratorES) Resume(ctx context.Context, sessionID string) (*aggregate.ResearchState, error) {
	state, err := o.loadState(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	return o.continueResearch(ctx, state)
}

// loadOrCreateState loads existing state or creates new for a session.
func (o *DeepOrchestratorES) loadOrCreateState(ctx context.Context, sessionID string, query string) (*aggregate.ResearchState, error) {
	// Try to load existing
	existingEvents, err := o.eventStore.LoadEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(existingEvents) > 0 {
		// Convert ports.Event to interface{} for aggregate
		eventInterfaces := make([]interface{}, len(existingEvents))
		for i, e := range existingEvents {
			eventInterfaces[i] = o.portEventToDomain(e)
		}
		return aggregate.LoadFromEvents(sessionID, eventInterfaces)
	}

	// Create new
	state := aggregate.NewResearchState(sessionID)

	// Execute start command
	event, err := state.Execute(aggregate.StartResearchCommand{
		Query: query,
		Mode:  string(o.mode),
		Config: domainEvents.ResearchConfig{
			MaxWorkers: o.appConfig.MaxWorkers,
		},
	})
	if err != nil {
		return nil, err
	}

	// Persist event
	if err := o.persistEvent(ctx, state, event); err != nil {
		return nil, err
	}

	// Publish for UI
	o.publishUIEvent(event)

	return state, nil
}

// loadState loads state from the event store by replaying the full event
// log. Snapshots (written by saveSnapshot) record the version at which they
// were taken for diagnostic and future fast-path use, but reconstruction
// always folds the complete history: state must be a pure function of the
// whole event log, and a partial replay seeded from a bare snapshot marker
// would silently drop everything before it.
func (o *DeepOrchestratorES) loadState(ctx context.Context, sessionID string) (*aggregate.ResearchState, error) {
	allEvents, err := o.eventStore.LoadEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(allEvents) == 0 {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}

	eventInterfaces := make([]interface{}, len(allEvents))
	for i, e := range allEvents {
		eventInterfaces[i] = o.portEventToDomain(e)
	}
	return aggregate.LoadFromEvents(sessionID, eventInterfaces)
}

// continueResearch picks up from current state and completes the research.
func (o *DeepOrchestratorES) continueResearch(ctx context.Context, state *aggregate.ResearchState) (*aggregate.ResearchState, error) {
	// Continue from current status
	switch state.Status {
	case "pending", "planning":
		if err := o.executePlanning(ctx, state); err != nil {
			return state, err
		}
		fallthrough

	case "searching":
		if err := o.executeDAG(ctx, state); err != nil {
			return state, err
		}
		// Start analysis phase
		event, err := state.Execute(aggregate.StartAnalysisCommand{
			TotalFacts: o.countTotalFacts(state),
		})
		if err == nil {
			_ = o.persistEvent(ctx, state, event)
			o.publishUIEvent(event)
		}
		fallthrough

	case "analyzing":
		if err := o.executeAnalysis(ctx, state); err != nil {
			return state, err
		}
		o.executeGapFilling(ctx, state)
		// Start synthesis phase
		event, err := state.Execute(aggregate.StartSynthesisCommand{})
		if err == nil {
			_ = o.persistEvent(ctx, state, event)
			o.publishUIEvent(event)
		}
		fallthrough

	case "synthesizing":
		if err := o.executeSynthesis(ctx, state); err != nil {
			return state, err
		}

	case "complete":
		return state, nil

	case "failed", "cancelled":
		return state, fmt.Errorf("research in terminal state: %s", state.Status)
	}

	// Mark complete
	event, _ := state.Execute(aggregate.CompleteResearchCommand{
		Duration: time.Since(*state.StartedAt),
	})
	_ = o.persistEvent(ctx, state, event)
	o.publishUIEvent(event)

	// Record a snapshot marker when the final version is a multiple of 20;
	// loadState always replays the full log and does not read it
	if state.Version%20 == 0 {
		o.saveSnapshot(ctx, state)
	}

	return state, nil
}

// executePlanning creates the research plan and DAG.
func (o *DeepOrchestratorES) executePlanning(ctx context.Context, state *aggregate.ResearchState) error {
	plan, err := o.planner.CreatePlan(ctx, state.Query)
	if err != nil {
		return err
	}

	if o.mode == config.ModeFast {
		plan = collapseToFastPlan(plan)
	}

	// Convert to event format
	perspectives := make([]domainEvents.Perspective, len(plan.Perspectives))
	for i, p := range plan.Perspectives {
		perspectives[i] = domainEvents.Perspective{
			Name:      p.Name,
			Focus:     p.Focus,
			Questions: p.Questions,
		}
	}

	dagSnapshot := buildDAGSnapshotFromPlan(plan.DAG)

	// Execute command
	event, err := state.Execute(aggregate.SetPlanCommand{
		Topic:        plan.Topic,
		Perspectives: perspectives,
		DAGStructure: dagSnapshot,
		Cost: domainEvents.CostBreakdown{
			InputTokens:  plan.Cost.InputTokens,
			OutputTokens: plan.Cost.OutputTokens,
			TotalTokens:  plan.Cost.TotalTokens,
			TotalCostUSD: plan.Cost.TotalCost,
		},
	})
	if err != nil {
		return err
	}

	if err := o.persistEvent(ctx, state, event); err != nil {
		return err
	}
	o.publishUIEvent(event)

	return nil
}

// executeDAG runs the search fan-out to completion. Every node in
// state.DAG is a TaskSearch node by construction (see
// buildDAGSnapshotFromPlan); analysis, gap-filling and synthesis are not
// part of this graph and run afterward from continueResearch's status
// machine.
func (o *DeepOrchestratorES) executeDAG(ctx context.Context, state *aggregate.ResearchState) error {
	if state.DAG == nil {
		return fmt.Errorf("no DAG in state")
	}

	for {
		readyNodes := o.getReadyNodes(state)
		if len(readyNodes) == 0 {
			if o.allNodesComplete(state) {
				return nil
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		var wg sync.WaitGroup
		for _, node := range readyNodes {
			wg.Add(1)
			o.sem <- struct{}{}
			go func(n *aggregate.DAGNode) {
				defer wg.Done()
				defer func() { <-o.sem }()
				o.executeNode(ctx, state, n)
			}(node)
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			event, _ := state.Execute(aggregate.CancelResearchCommand{
				Reason: ctx.Err().Error(),
			})
			o.persistEvent(ctx, state, event)
			return ctx.Err()
		default:
		}
	}
}

// executeNode executes a single DAG node.
func (o *DeepOrchestratorES) executeNode(ctx context.Context, state *aggregate.ResearchState, node *aggregate.DAGNode) {
	workerNum := extractWorkerNum(node.ID)
	o.log.Debugw("worker started", "session_id", state.ID, "worker_num", workerNum, "node_id", node.ID)

	// Emit worker started
	event, _ := state.Execute(aggregate.StartWorkerCommand{
		WorkerID:    node.ID,
		WorkerNum:   workerNum,
		Objective:   node.Description,
		Perspective: o.getPerspectiveForNode(state, node.ID),
	})
	o.persistEvent(ctx, state, event)
	o.publishUIEvent(event)

	// Execute search
	perspective := o.buildPerspective(state, node.ID)
	result, err := o.searchAgent.SearchWithWorkerNum(ctx, node.Description, perspective, workerNum)

	if err != nil {
		o.log.Warnw("worker failed", "session_id", state.ID, "worker_num", workerNum, "error", err)
		event, _ := state.Execute(aggregate.FailWorkerCommand{
			WorkerID: node.ID,
			Error:    err.Error(),
		})
		o.persistEvent(ctx, state, event)
		o.publishUIEvent(event)
		return
	}

	// Convert result to event format
	facts := make([]domainEvents.Fact, len(result.Facts))
	for i, f := range result.Facts {
		facts[i] = domainEvents.Fact{
			Content:    f.Content,
			Confidence: f.Confidence,
			SourceURL:  f.Source, // agents.Fact uses Source, not SourceURL
			FetchedAt:  f.FetchedAt,
		}
	}

	// SearchResult.Sources is []string, convert to []domainEvents.Source
	sources := make([]domainEvents.Source, len(result.Sources))
	for i, s := range result.Sources {
		sources[i] = domainEvents.Source{
			URL: s, // result.Sources is []string
		}
	}

	// Emit worker completed
	// SearchResult doesn't have a Summary field, generate one from facts
	output := fmt.Sprintf("Found %d facts from %d sources", len(result.Facts), len(result.Sources))
	event, _ = state.Execute(aggregate.CompleteWorkerCommand{
		WorkerID: node.ID,
		Output:   output,
		Facts:    facts,
		Sources:  sources,
		Cost: domainEvents.CostBreakdown{
			InputTokens:  result.Cost.InputTokens,
			OutputTokens: result.Cost.OutputTokens,
			TotalTokens:  result.Cost.TotalTokens,
			TotalCostUSD: result.Cost.TotalCost,
		},
	})
	o.persistEvent(ctx, state, event)
	o.publishUIEvent(event)
}

// executeAnalysis runs the analysis phase.
func (o *DeepOrchestratorES) executeAnalysis(ctx context.Context, state *aggregate.ResearchState) error {
	// Collect facts from workers
	var allFacts []agents.Fact
	for _, w := range state.Workers {
		for _, f := range w.Facts {
			allFacts = append(allFacts, agents.Fact{
				Content:    f.Content,
				Confidence: f.Confidence,
				Source:     f.SourceURL,
				FetchedAt:  f.FetchedAt,
			})
		}
	}

	if len(allFacts) == 0 {
		// No facts to analyze, skip to synthesis
		return nil
	}

	result, err := o.analysisAgent.Analyze(ctx, state.Query, allFacts, nil)
	if err != nil {
		// Continue without analysis if it fails
		result = &agents.AnalysisResult{}
	}

	// Convert to event format
	// agents.ValidatedFact embeds agents.Fact, so Content/Confidence are at Fact level
	validatedFacts := make([]domainEvents.ValidatedFact, len(result.ValidatedFacts))
	for i, f := range result.ValidatedFacts {
		validatedFacts[i] = domainEvents.ValidatedFact{
			Content:        f.Content,
			Confidence:     f.Confidence,
			CorroboratedBy: f.CorroboratedBy,
		}
	}

	// agents.Contradiction uses Claim1/Claim2/Nature, not Fact1/Fact2/Description
	contradictions := make([]domainEvents.Contradiction, len(result.Contradictions))
	for i, c := range result.Contradictions {
		contradictions[i] = domainEvents.Contradiction{
			Fact1:       c.Claim1,
			Fact2:       c.Claim2,
			Description: c.Nature,
		}
	}

	gaps := make([]domainEvents.KnowledgeGap, len(result.KnowledgeGaps))
	for i, g := range result.KnowledgeGaps {
		gaps[i] = domainEvents.KnowledgeGap{
			Description:      g.Description,
			Importance:       g.Importance,
			SuggestedQueries: g.SuggestedQueries,
		}
	}

	event, err := state.Execute(aggregate.SetAnalysisCommand{
		ValidatedFacts: validatedFacts,
		Contradictions: contradictions,
		KnowledgeGaps:  gaps,
		Cost: domainEvents.CostBreakdown{
			InputTokens:  result.Cost.InputTokens,
			OutputTokens: result.Cost.OutputTokens,
			TotalTokens:  result.Cost.TotalTokens,
			TotalCostUSD: result.Cost.TotalCost,
		},
	})
	if err != nil {
		return err
	}

	o.persistEvent(ctx, state, event)
	o.publishUIEvent(event)

	return nil
}

// maxGapFillers bounds how many synthetic gap-filler perspectives a single
// session may spawn, regardless of how many important gaps were found.
const maxGapFillers = 3

// executeGapFilling spawns a bounded number of extra search workers for the
// most important knowledge gaps surfaced by analysis, so the synthesis phase
// has a chance to close them before the report is written.
func (o *DeepOrchestratorES) executeGapFilling(ctx context.Context, state *aggregate.ResearchState) {
	if state.Analysis == nil || len(state.Analysis.KnowledgeGaps) == 0 {
		return
	}

	var important []domainEvents.KnowledgeGap
	for _, g := range state.Analysis.KnowledgeGaps {
		if g.Importance >= 0.5 {
			important = append(important, g)
		}
	}
	if len(important) == 0 {
		return
	}
	if len(important) > maxGapFillers {
		important = important[:maxGapFillers]
	}

	o.eventBus.Publish(events.Event{
		Type:      events.EventGapFillingStarted,
		SessionID: state.ID,
		Data: events.GapFillingProgressData{
			TotalGaps: len(important),
			Status:    "searching",
		},
	})

	var wg sync.WaitGroup
	for i, gap := range important {
		wg.Add(1)
		o.sem <- struct{}{}
		go func(idx int, g domainEvents.KnowledgeGap) {
			defer wg.Done()
			defer func() { <-o.sem }()

			o.eventBus.Publish(events.Event{
				Type:      events.EventGapFillingProgress,
				SessionID: state.ID,
				Data: events.GapFillingProgressData{
					GapIndex:  idx,
					TotalGaps: len(important),
					GapDesc:   g.Description,
					Status:    "searching",
					Progress:  float64(idx) / float64(len(important)),
				},
			})

			workerID := fmt.Sprintf("gap-filler-%d", idx)
			result, err := o.searchAgent.SearchWithWorkerNum(ctx, g.Description, workerID, 1000+idx)
			status := "complete"
			if err != nil {
				status = "skipped"
			} else {
				o.mergeGapFillResult(ctx, state, workerID, g.Description, result)
			}
			o.eventBus.Publish(events.Event{
				Type:      events.EventGapFillingProgress,
				SessionID: state.ID,
				Data: events.GapFillingProgressData{
					GapIndex:  idx,
					TotalGaps: len(important),
					GapDesc:   g.Description,
					Status:    status,
					Progress:  float64(idx+1) / float64(len(important)),
				},
			})
		}(i, gap)
	}
	wg.Wait()

	o.eventBus.Publish(events.Event{
		Type:      events.EventGapFillingComplete,
		SessionID: state.ID,
		Data: events.GapFillingProgressData{
			TotalGaps: len(important),
			Status:    "complete",
			Progress:  1.0,
		},
	})
}

// mergeGapFillResult folds a gap-filler search into the global fact pool by
// recording it as a worker, the same mechanism executeNode uses for the
// regular search fan-out. Without this, gap-filling finds facts that
// synthesis never sees.
func (o *DeepOrchestratorES) mergeGapFillResult(ctx context.Context, state *aggregate.ResearchState, workerID, objective string, result *agents.SearchResult) {
	startEvent, _ := state.Execute(aggregate.StartWorkerCommand{
		WorkerID:  workerID,
		WorkerNum: extractWorkerNum(workerID),
		Objective: objective,
	})
	o.persistEvent(ctx, state, startEvent)

	facts := make([]domainEvents.Fact, len(result.Facts))
	for i, f := range result.Facts {
		facts[i] = domainEvents.Fact{
			Content:    f.Content,
			Confidence: f.Confidence,
			SourceURL:  f.Source,
		}
	}
	sources := make([]domainEvents.Source, len(result.Sources))
	for i, s := range result.Sources {
		sources[i] = domainEvents.Source{URL: s}
	}

	completeEvent, _ := state.Execute(aggregate.CompleteWorkerCommand{
		WorkerID: workerID,
		Output:   fmt.Sprintf("Gap-fill found %d facts from %d sources", len(result.Facts), len(result.Sources)),
		Facts:    facts,
		Sources:  sources,
		Cost: domainEvents.CostBreakdown{
			InputTokens:  result.Cost.InputTokens,
			OutputTokens: result.Cost.OutputTokens,
			TotalTokens:  result.Cost.TotalTokens,
			TotalCostUSD: result.Cost.TotalCost,
		},
	})
	o.persistEvent(ctx, state, completeEvent)
}

// executeSynthesis generates the final report.
func (o *DeepOrchestratorES) executeSynthesis(ctx context.Context, state *aggregate.ResearchState) error {
	// Build plan from state
	plan := o.buildPlanFromState(state)
	searchResults := o.buildSearchResultsFromState(state)
	analysisResult := o.buildAnalysisResultFromState(state)

	// Feed every worker's output through the context manager so a session
	// with many perspectives and gap-fillers gets folded before its
	// accumulated history would blow the synthesis prompt's token budget.
	for _, w := range orderedWorkerStates(state) {
		o.contextMgr.Record("worker", fmt.Sprintf("[%s] %s", w.ID, w.Output))
	}
	if err := o.contextMgr.FoldIfNeeded(ctx); err != nil {
		o.log.Warnw("context fold failed, continuing with unfolded context", "session_id", state.ID, "error", err)
	}

	report, err := o.synthesisAgent.Synthesize(ctx, plan, searchResults, analysisResult)
	if err != nil {
		return err
	}

	report.Cost.Add(o.contextMgr.CostBreakdown())

	citations := make([]domainEvents.Citation, len(report.Citations))
	for i, c := range report.Citations {
		citations[i] = domainEvents.Citation{
			ID:    c.ID,
			URL:   c.URL,
			Title: c.Title,
		}
	}

	event, err := state.Execute(aggregate.SetReportCommand{
		Title:       report.Title,
		Summary:     report.Summary,
		FullContent: report.FullContent,
		Citations:   citations,
		Cost: domainEvents.CostBreakdown{
			InputTokens:  report.Cost.InputTokens,
			OutputTokens: report.Cost.OutputTokens,
			TotalTokens:  report.Cost.TotalTokens,
			TotalCostUSD: report.Cost.TotalCost,
		},
	})
	if err != nil {
		return err
	}

	o.persistEvent(ctx, state, event)
	o.publishUIEvent(event)

	return nil
}

// researchHeavy implements the optional "heavy mode" fan-out: HeavyFanout
// independent Deep runs execute concurrently, each its own session with its
// own DAG and event log, and a final meta-synthesis pass merges their
// reports into one, reconciling citations under a unified numbering. The
// sub-run sessions remain independently inspectable (e.g. via the HTTP
// introspection API) under their own session IDs.
func (o *DeepOrchestratorES) researchHeavy(ctx context.Context, sessionID string, query string) (*aggregate.ResearchState, error) {
	fanout := o.heavyFanout
	subStates := make([]*aggregate.ResearchState, fanout)
	subErrs := make([]error, fanout)

	var wg sync.WaitGroup
	for i := 0; i < fanout; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			subID := fmt.Sprintf("%s-heavy-%d", sessionID, idx)
			state, err := o.loadOrCreateState(ctx, subID, query)
			if err != nil {
				subErrs[idx] = err
				return
			}
			state, err = o.continueResearch(ctx, state)
			subStates[idx] = state
			subErrs[idx] = err
		}(i)
	}
	wg.Wait()

	var reports []*aggregate.ReportState
	for i, st := range subStates {
		if subErrs[i] != nil || st == nil || st.Report == nil {
			o.log.Warnw("heavy sub-run produced no report", "session_id", sessionID, "sub_run", i, "error", subErrs[i])
			continue
		}
		reports = append(reports, st.Report)
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("heavy mode: all %d sub-runs failed to produce a report", fanout)
	}

	state := aggregate.NewResearchState(sessionID)
	event, err := state.Execute(aggregate.StartResearchCommand{
		Query: query,
		Mode:  string(o.mode),
		Config: domainEvents.ResearchConfig{
			MaxWorkers: o.appConfig.MaxWorkers,
		},
	})
	if err != nil {
		return nil, err
	}
	o.persistEvent(ctx, state, event)
	o.publishUIEvent(event)

	event, _ = state.Execute(aggregate.SetPlanCommand{
		Topic:        query,
		Perspectives: nil,
		DAGStructure: domainEvents.DAGSnapshot{},
	})
	o.persistEvent(ctx, state, event)
	o.publishUIEvent(event)

	event, _ = state.Execute(aggregate.StartAnalysisCommand{})
	o.persistEvent(ctx, state, event)

	event, _ = state.Execute(aggregate.SetAnalysisCommand{})
	o.persistEvent(ctx, state, event)

	report, metaCost, err := o.metaSynthesize(ctx, query, reports)
	if err != nil {
		return nil, fmt.Errorf("meta-synthesis: %w", err)
	}

	event, err = state.Execute(aggregate.SetReportCommand{
		Title:       report.Title,
		Summary:     report.Summary,
		FullContent: report.FullContent,
		Citations:   report.Citations,
		Cost:        metaCost,
	})
	if err != nil {
		return state, err
	}
	o.persistEvent(ctx, state, event)
	o.publishUIEvent(event)

	event, _ = state.Execute(aggregate.CompleteResearchCommand{
		Duration: time.Since(*state.StartedAt),
	})
	o.persistEvent(ctx, state, event)
	o.publishUIEvent(event)

	return state, nil
}

// metaSynthesize asks the LLM to reconcile N independent reports into one,
// renumbering citations in first-appearance order across the merged set.
func (o *DeepOrchestratorES) metaSynthesize(ctx context.Context, topic string, reports []*aggregate.ReportState) (*aggregate.ReportState, domainEvents.CostBreakdown, error) {
	var prompt strings.Builder
	prompt.WriteString("Synthesize the following ")
	fmt.Fprintf(&prompt, "%d", len(reports))
	prompt.WriteString(" independent research reports on the same topic into one coherent report, reconciling citations and resolving overlaps. Keep inline citation markers in the form [n], renumbering them in first-appearance order across the merged report.\n\n")
	fmt.Fprintf(&prompt, "Topic: %s\n\n", topic)

	allCitations := make(map[string]domainEvents.Citation)
	var orderedURLs []string
	for i, r := range reports {
		fmt.Fprintf(&prompt, "--- Report %d: %s ---\n%s\n\n", i+1, r.Title, r.FullContent)
		for _, c := range r.Citations {
			if _, ok := allCitations[c.URL]; !ok {
				allCitations[c.URL] = c
				orderedURLs = append(orderedURLs, c.URL)
			}
		}
	}

	resp, err := o.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You write cited research reports by merging independently-researched drafts."},
		{Role: "user", Content: prompt.String()},
	}, llm.Options{Scope: "meta-synthesis"})
	if err != nil {
		return nil, domainEvents.CostBreakdown{}, err
	}

	citations := make([]domainEvents.Citation, 0, len(orderedURLs))
	for i, url := range orderedURLs {
		c := allCitations[url]
		citations = append(citations, domainEvents.Citation{ID: i + 1, URL: url, Title: c.Title})
	}

	content := resp.Choices[0].Message.Content
	summary := content
	if len(summary) > 500 {
		summary = summary[:500]
	}

	cost := domainEvents.CostBreakdown{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}

	return &aggregate.ReportState{
		Title:       fmt.Sprintf("Research report: %s", topic),
		Summary:     summary,
		FullContent: content,
		Citations:   citations,
	}, cost, nil
}

// persistEvent saves an event to the event store.
func (o *DeepOrchestratorES) persistEvent(ctx context.Context, state *aggregate.ResearchState, event interface{}) error {
	// Convert to ports.Event interface
	e, ok := event.(ports.Event)
	if !ok {
		return fmt.Errorf("event does not implement ports.Event: %T", event)
	}

	return o.eventStore.AppendEvents(ctx, state.ID, []ports.Event{e}, state.Version-1)
}

// publishUIEvent converts domain event to UI event and publishes.
func (o *DeepOrchestratorES) publishUIEvent(event interface{}) {
	if o.eventBus == nil {
		return
	}

	// Map domain events to existing UI events
	switch e := event.(type) {
	case domainEvents.ResearchStartedEvent:
		o.eventBus.Publish(events.Event{
			Type:      events.EventResearchStarted,
			Timestamp: e.Timestamp,
			Data: events.ResearchStartedData{
				Query: e.Query,
				Mode:  e.Mode,
			},
		})

	case domainEvents.PlanCreatedEvent:
		perspectives := make([]events.PerspectiveData, len(e.Perspectives))
		for i, p := range e.Perspectives {
			perspectives[i] = events.PerspectiveData{
				Name:      p.Name,
				Focus:     p.Focus,
				Questions: p.Questions,
			}
		}
		dagNodes := make([]events.DAGNodeData, len(e.DAGStructure.Nodes))
		for i, n := range e.DAGStructure.Nodes {
			dagNodes[i] = events.DAGNodeData{
				ID:           n.ID,
				TaskType:     n.TaskType,
				Description:  n.Description,
				Dependencies: n.Dependencies,
				Status:       n.Status,
			}
		}
		o.eventBus.Publish(events.Event{
			Type:      events.EventPlanCreated,
			Timestamp: e.Timestamp,
			Data: events.PlanCreatedData{
				WorkerCount:  len(e.Perspectives),
				Complexity:   0.8,
				Topic:        e.Topic,
				Perspectives: perspectives,
				DAGNodes:     dagNodes,
			},
		})

	case domainEvents.WorkerStartedEvent:
		o.eventBus.Publish(events.Event{
			Type:      events.EventWorkerStarted,
			Timestamp: e.Timestamp,
			Data: events.WorkerProgressData{
				WorkerID:  e.WorkerID,
				WorkerNum: e.WorkerNum,
				Objective: e.Objective,
				Status:    "running",
			},
		})

	case domainEvents.WorkerCompletedEvent:
		o.eventBus.Publish(events.Event{
			Type:      events.EventWorkerComplete,
			Timestamp: e.Timestamp,
			Data: events.WorkerProgressData{
				WorkerID:  e.WorkerID,
				WorkerNum: 0,
				Status:    "complete",
			},
		})

	case domainEvents.WorkerFailedEvent:
		o.eventBus.Publish(events.Event{
			Type:      events.EventWorkerFailed,
			Timestamp: e.Timestamp,
			Data: events.WorkerProgressData{
				WorkerID: e.WorkerID,
				Status:   "failed",
				Message:  e.Error,
			},
		})

	case domainEvents.AnalysisCompletedEvent:
		o.eventBus.Publish(events.Event{
			Type:      events.EventAnalysisComplete,
			Timestamp: e.Timestamp,
			Data: map[string]interface{}{
				"contradictions": len(e.Contradictions),
				"gaps":           len(e.KnowledgeGaps),
			},
		})

	case domainEvents.ReportGeneratedEvent:
		o.eventBus.Publish(events.Event{
			Type:      events.EventSynthesisComplete,
			Timestamp: e.Timestamp,
		})

	case domainEvents.ResearchCompletedEvent:
		o.eventBus.Publish(events.Event{
			Type:      events.EventResearchComplete,
			Timestamp: e.Timestamp,
			Data: map[string]interface{}{
				"duration":     e.Duration,
				"source_count": e.SourceCount,
			},
		})
	}
}

// saveSnapshot records a version checkpoint. loadState always replays the
// full event log regardless, so Data carries no state today; the field
// exists for a future fast-path that would need to validate a deserialized
// snapshot against the same reducer used for full replay.
func (o *DeepOrchestratorES) saveSnapshot(ctx context.Context, state *aggregate.ResearchState) {
	snapshot := ports.Snapshot{
		AggregateID: state.ID,
		Version:     state.Version,
		Timestamp:   time.Now(),
		Data:        []byte(`{}`),
	}
	_ = o.eventStore.SaveSnapshot(ctx, state.ID, snapshot)
}

// Helper functions

func (o *DeepOrchestratorES) getReadyNodes(state *aggregate.ResearchState) []*aggregate.DAGNode {
	var ready []*aggregate.DAGNode
	for _, node := range state.DAG.Nodes {
		if node.Status != "pending" {
			continue
		}
		// Check all dependencies are complete
		allDepsComplete := true
		for _, depID := range node.Dependencies {
			dep, ok := state.DAG.Nodes[depID]
			if !ok || dep.Status != "complete" {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, node)
		}
	}
	return ready
}

func (o *DeepOrchestratorES) allNodesComplete(state *aggregate.ResearchState) bool {
	for _, node := range state.DAG.Nodes {
		if node.Status != "complete" && node.Status != "failed" {
			return false
		}
	}
	return true
}

func extractWorkerNum(nodeID string) int {
	var index int
	if _, err := fmt.Sscanf(nodeID, "search_%d", &index); err == nil {
		return index + 1
	}
	if _, err := fmt.Sscanf(nodeID, "gap-filler-%d", &index); err == nil {
		return 1000 + index
	}
	return 0
}

func (o *DeepOrchestratorES) getPerspectiveForNode(state *aggregate.ResearchState, nodeID string) string {
	if worker, ok := state.Workers[nodeID]; ok {
		return worker.Perspective
	}
	return ""
}

func (o *DeepOrchestratorES) buildPerspective(state *aggregate.ResearchState, nodeID string) *planning.Perspective {
	if state.Plan == nil {
		return nil
	}
	for _, p := range state.Plan.Perspectives {
		if worker, ok := state.Workers[nodeID]; ok && worker.Perspective == p.Name {
			return &planning.Perspective{
				Name:      p.Name,
				Focus:     p.Focus,
				Questions: p.Questions,
			}
		}
	}
	// Return first perspective if not found
	if len(state.Plan.Perspectives) > 0 {
		p := state.Plan.Perspectives[0]
		return &planning.Perspective{
			Name:      p.Name,
			Focus:     p.Focus,
			Questions: p.Questions,
		}
	}
	return nil
}

// collapseToFastPlan reduces a plan to the minimal Root -> Search ->
// Synthesize shape used by Mode Fast: a single perspective and no
// cross-validation or gap-fill nodes, trading thoroughness for latency.
func collapseToFastPlan(plan *planning.ResearchPlan) *planning.ResearchPlan {
	perspectives := plan.Perspectives
	if len(perspectives) > 1 {
		perspectives = perspectives[:1]
	}

	dag := planning.NewDAG()
	root := dag.AddNode("root", planning.TaskAnalyze, fmt.Sprintf("Initial analysis of: %s", plan.Topic))
	searchID := "search_0"
	focus := plan.Topic
	if len(perspectives) > 0 {
		dag.AddNode(searchID, planning.TaskSearch,
			fmt.Sprintf("Research from %s perspective: %s", perspectives[0].Name, perspectives[0].Focus))
	} else {
		dag.AddNode(searchID, planning.TaskSearch, fmt.Sprintf("Research: %s", focus))
	}
	dag.AddDependency(searchID, root.ID)
	synth := dag.AddNode("synthesize", planning.TaskSynthesize, "Generate final research report")
	dag.AddDependency(synth.ID, searchID)

	return &planning.ResearchPlan{
		Topic:        plan.Topic,
		Perspectives: perspectives,
		DAG:          dag,
		Cost:         plan.Cost,
	}
}

// buildDAGSnapshotFromPlan projects the planner's five-stage DAG down to the
// subset the orchestrator actually dispatches through executeNode: the
// search fan-out. The root/cross-validate/fill-gaps/synthesize stages are
// driven directly by continueResearch's status machine (executeAnalysis,
// executeGapFilling, executeSynthesis), so keeping them in the executable
// DAG would just burn a search-agent call on a non-search objective and
// leave a bogus worker record behind. Search nodes lose their dependency
// on the (now absent) root node and become ready as soon as the plan is set.
func buildDAGSnapshotFromPlan(dag *planning.ResearchDAG) domainEvents.DAGSnapshot {
	var snapshot domainEvents.DAGSnapshot
	for _, n := range dag.GetAllNodes() {
		if !n.TaskType.RequiresSearchAgent() {
			continue
		}
		snapshot.Nodes = append(snapshot.Nodes, domainEvents.DAGNodeSnapshot{
			ID:           n.ID,
			TaskType:     n.TaskType.String(),
			Description:  n.Description,
			Dependencies: nil,
			Status:       n.Status.String(),
		})
	}
	return snapshot
}

func (o *DeepOrchestratorES) buildPlanFromState(state *aggregate.ResearchState) *planning.ResearchPlan {
	if state.Plan == nil {
		return &planning.ResearchPlan{Topic: state.Query}
	}
	perspectives := make([]planning.Perspective, len(state.Plan.Perspectives))
	for i, p := range state.Plan.Perspectives {
		perspectives[i] = planning.Perspective{
			Name:      p.Name,
			Focus:     p.Focus,
			Questions: p.Questions,
		}
	}
	return &planning.ResearchPlan{
		Topic:        state.Plan.Topic,
		Perspectives: perspectives,
	}
}

// orderedWorkerStates returns state.Workers as a slice sorted by ID, so
// anything feeding it to a deterministic pipeline (like the context
// manager's folding) doesn't inherit Go's randomized map iteration order.
func orderedWorkerStates(state *aggregate.ResearchState) []*aggregate.WorkerState {
	workers := make([]*aggregate.WorkerState, 0, len(state.Workers))
	for _, w := range state.Workers {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	return workers
}

func (o *DeepOrchestratorES) buildSearchResultsFromState(state *aggregate.ResearchState) map[string]*agents.SearchResult {
	results := make(map[string]*agents.SearchResult)
	for id, w := range state.Workers {
		if w.Status != "complete" {
			continue
		}
		facts := make([]agents.Fact, len(w.Facts))
		for i, f := range w.Facts {
			facts[i] = agents.Fact{
				Content:    f.Content,
				Confidence: f.Confidence,
				Source:     f.SourceURL,
			}
		}
		// agents.SearchResult.Sources is []string, not []Source
		sources := make([]string, len(w.Sources))
		for i, s := range w.Sources {
			sources[i] = s.URL
		}
		results[id] = &agents.SearchResult{
			Facts:   facts,
			Sources: sources,
			// Note: SearchResult has no Output field, only Facts/Sources/Gaps/Cost
		}
	}
	return results
}

func (o *DeepOrchestratorES) buildAnalysisResultFromState(state *aggregate.ResearchState) *agents.AnalysisResult {
	if state.Analysis == nil {
		return &agents.AnalysisResult{}
	}
	// agents.ValidatedFact embeds agents.Fact
	validatedFacts := make([]agents.ValidatedFact, len(state.Analysis.ValidatedFacts))
	for i, f := range state.Analysis.ValidatedFacts {
		validatedFacts[i] = agents.ValidatedFact{
			Fact: agents.Fact{
				Content:    f.Content,
				Confidence: f.Confidence,
			},
			CorroboratedBy: f.CorroboratedBy,
		}
	}
	// agents.Contradiction uses Claim1/Claim2/Nature
	contradictions := make([]agents.Contradiction, len(state.Analysis.Contradictions))
	for i, c := range state.Analysis.Contradictions {
		contradictions[i] = agents.Contradiction{
			Claim1: c.Fact1,
			Claim2: c.Fact2,
			Nature: c.Description,
		}
	}
	gaps := make([]agents.KnowledgeGap, len(state.Analysis.KnowledgeGaps))
	for i, g := range state.Analysis.KnowledgeGaps {
		gaps[i] = agents.KnowledgeGap{
			Description:      g.Description,
			Importance:       g.Importance,
			SuggestedQueries: g.SuggestedQueries,
		}
	}
	return &agents.AnalysisResult{
		ValidatedFacts: validatedFacts,
		Contradictions: contradictions,
		KnowledgeGaps:  gaps,
	}
}

func (o *DeepOrchestratorES) countTotalFacts(state *aggregate.ResearchState) int {
	count := 0
	for _, w := range state.Workers {
		count += len(w.Facts)
	}
	return count
}

// portEventToDomain converts a ports.Event back to the concrete domain event type.
func (o *DeepOrchestratorES) portEventToDomain(e ports.Event) interface{} {
	// The event is already the concrete type from deserialization
	return e
}

// newChatClient selects the ChatClient implementation per cfg.LLMProvider.
// "anthropic" swaps in the Anthropic Messages API client; anything else
// falls back to the default OpenAI-compatible one.
func newChatClient(cfg *config.Config, onCost llm.CostCallback) llm.ChatClient {
	if cfg.LLMProvider == "anthropic" {
		return llm.NewAnthropicClient(cfg.LLMAPIKey, cfg.Model, cfg.LLMTimeout, onCost)
	}
	return llm.NewClient(cfg.LLMAPIKey, "", cfg.Model, cfg.LLMTimeout, onCost)
}

// Orchestrator is the single entry point for both Fast and Deep research,
// distinguished only by Config.Mode. The fast/storm/think-deep variants that
// used to live alongside this type have been folded into it; see DESIGN.md.
type Orchestrator = DeepOrchestratorES

// New builds the orchestrator for the given mode-carrying configuration.
func New(eventStore ports.EventStore, bus *events.Bus, cfg *config.Config, opts ...DeepOrchestratorESOption) *Orchestrator {
	return NewDeepOrchestratorES(eventStore, bus, cfg, opts...)
}
