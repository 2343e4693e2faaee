// Command research drives the deep research orchestrator from a terminal:
// a single shot via --query, or an interactive line-at-a-time loop over
// stdin when no query is given. The REPL command routing, readline history
// and animated worker panels of the source tree are intentionally not
// reproduced here (see DESIGN.md); this is a thin driver over the
// orchestrator and its event bus.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deepresearch/internal/adapters/storage/filesystem"
	"deepresearch/internal/apperrors"
	"deepresearch/internal/classifier"
	"deepresearch/internal/config"
	"deepresearch/internal/core/domain/aggregate"
	"deepresearch/internal/events"
	"deepresearch/internal/httpapi"
	"deepresearch/internal/llm"
	"deepresearch/internal/obsidian"
	"deepresearch/internal/orchestrator"
)

// exit codes.
const (
	exitOK            = 0
	exitFatal         = 1
	exitConfig        = 2
	exitUserInterrupt = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	v := viper.New()
	var cfgErr error
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "research",
		Short:         "Deep research agent: plan, search, synthesize a cited report",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgErr = config.Load(v)
			return nil
		},
	}

	root.Flags().String("query", "", "run one research query and exit")
	root.Flags().String("model", "", "override the LLM model")
	root.Flags().Int("max-workers", 0, "override the maximum number of search workers")
	root.Flags().Bool("verbose", false, "stream agent progress events to the terminal")
	root.Flags().String("vault", "", "override the Obsidian vault path")
	root.Flags().String("session", "", "resume an existing session ID instead of starting a new one")
	root.Flags().String("http-addr", "", "start the read-only session introspection API on this address (e.g. :8090)")
	root.Flags().String("mode", "", "orchestrator mode: fast (single perspective, no cross-validation) or deep")
	root.Flags().Int("heavy-fanout", 0, "run this many independent deep research passes and meta-synthesize them (deep mode only)")

	_ = v.BindPFlag("query", root.Flags().Lookup("query"))
	_ = v.BindPFlag("model", root.Flags().Lookup("model"))
	_ = v.BindPFlag("max_workers", root.Flags().Lookup("max-workers"))
	_ = v.BindPFlag("verbose", root.Flags().Lookup("verbose"))
	_ = v.BindPFlag("vault_path", root.Flags().Lookup("vault"))
	_ = v.BindPFlag("session", root.Flags().Lookup("session"))
	_ = v.BindPFlag("http_addr", root.Flags().Lookup("http-addr"))
	_ = v.BindPFlag("mode", root.Flags().Lookup("mode"))
	_ = v.BindPFlag("heavy_fanout", root.Flags().Lookup("heavy-fanout"))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}
	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", cfgErr)
		return exitConfig
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitConfig
	}

	eventStore := filesystem.NewEventStore(cfg.EventStoreDir)
	bus := events.NewBus(100)
	defer bus.Close()

	orch := orchestrator.New(eventStore, bus, cfg)

	var httpSrv *httpapi.Server
	if cfg.HTTPAddr != "" {
		httpSrv = httpapi.New(eventStore, cfg.HTTPAddr, nil)
		go func() {
			if err := httpSrv.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "http api: %v\n", err)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SessionTimeout)
	defer cancel()

	var interrupted bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		interrupted = true
		cancel()
	}()

	if cfg.Verbose {
		stopPrinting := printProgress(bus)
		defer func() {
			bus.Close()
			stopPrinting()
		}()
	}

	var runErr error
	if cfg.Query != "" {
		runErr = runOnce(ctx, orch, cfg)
	} else {
		runErr = runInteractive(ctx, orch, cfg)
	}

	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if interrupted {
		fmt.Fprintln(os.Stderr, "Interrupted:", apperrors.ReasonUserInterrupt)
		return exitUserInterrupt
	}
	if runErr != nil {
		if apperrors.IsCancellation(runErr) {
			fmt.Fprintln(os.Stderr, "Cancelled:", apperrors.ReasonTimeout)
			return exitUserInterrupt
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return exitFatal
	}
	return exitOK
}

// runOnce executes a single research query and prints the resulting report.
func runOnce(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config) error {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}

	state, err := orch.Research(ctx, sessionID, cfg.Query)
	if err != nil {
		return err
	}
	printReport(state)
	writeToVault(cfg, state)
	return nil
}

// runInteractive reads queries one line at a time from stdin until EOF or
// "exit"/"quit", running each as an independent research session. This is
// deliberately not the source tree's REPL: no slash commands, no readline,
// no resumable multi-turn expansion — just a loop over one-shot queries,
// with an optional classify step to decide whether a line
// continues the last session or starts a new one.
func runInteractive(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config) error {
	fmt.Println("Deep research agent. Type a query and press enter (Ctrl-D to quit).")

	classify := classifier.New(llm.NewClient(cfg.LLMAPIKey, "", cfg.ClassifierModel, cfg.LLMTimeout, nil), cfg.ClassifierModel)
	var lastSessionID string
	var lastState *aggregate.ResearchState

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		sessionID := newSessionID()
		if lastState != nil && lastState.Report != nil {
			summary := lastState.Report.Summary
			if result, err := classify.Classify(ctx, line, true, summary); err == nil {
				switch result.Type {
				case classifier.Question:
					// Answerable from the existing report; no new research run.
					printReport(lastState)
					continue
				case classifier.Expand:
					sessionID = lastSessionID
				}
			}
			// On a classification error, the default applies: treat the
			// line as a brand-new research query (sessionID stays fresh).
		}

		state, err := orch.Research(ctx, sessionID, line)
		if err != nil {
			if apperrors.IsCancellation(err) {
				return err
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		printReport(state)
		writeToVault(cfg, state)
		lastSessionID, lastState = sessionID, state

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func newSessionID() string {
	return fmt.Sprintf("%s-%s", time.Now().Format("2006-01-02"), uuid.New().String()[:8])
}

// printReport renders the synthesized report, if any, to stdout.
func printReport(state *aggregate.ResearchState) {
	if state == nil || state.Report == nil {
		fmt.Println("(no report generated)")
		return
	}
	title := color.New(color.FgGreen, color.Bold).Sprint(state.Report.Title)
	fmt.Printf("\n%s\n\n%s\n\n%s\n", title, state.Report.Summary, state.Report.FullContent)
	if len(state.Report.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range state.Report.Citations {
			fmt.Printf("  [%d] %s — %s\n", c.ID, c.Title, c.URL)
		}
	}
	fmt.Printf("\ncost: $%.4f\n", state.Cost.TotalCostUSD)
}

// writeToVault projects a completed session into the legacy session shape
// and hands it to the Obsidian writer, when a vault path is configured.
func writeToVault(cfg *config.Config, state *aggregate.ResearchState) {
	if cfg.VaultPath == "" || state == nil || state.Report == nil {
		return
	}
	writer := obsidian.NewWriter(cfg.VaultPath)
	if err := writer.Write(obsidian.FromResearchState(state)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write vault entry: %v\n", err)
	}
}

// printProgress subscribes to the bus and renders a terse progress feed.
// It returns a function that blocks until the feed has drained, for use
// with defer once the bus is closed.
func printProgress(bus *events.Bus) func() {
	ch := bus.Subscribe(
		events.EventResearchStarted,
		events.EventPlanCreated,
		events.EventWorkerStarted,
		events.EventWorkerComplete,
		events.EventWorkerFailed,
		events.EventAnalysisComplete,
		events.EventGapFillingProgress,
		events.EventSynthesisComplete,
		events.EventResearchComplete,
		events.EventResearchFailed,
		events.EventResearchCancelled,
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			printEvent(ev)
		}
	}()
	return func() { <-done }
}

func printEvent(ev events.Event) {
	label := color.New(color.FgCyan).Sprint(ev.Type.String())
	switch d := ev.Data.(type) {
	case events.ResearchStartedData:
		fmt.Printf("[%s] query=%q mode=%s\n", label, d.Query, d.Mode)
	case events.PlanCreatedData:
		fmt.Printf("[%s] topic=%q perspectives=%d\n", label, d.Topic, d.WorkerCount)
	case events.WorkerProgressData:
		msg := d.Message
		if msg == "" {
			msg = d.Err
		}
		fmt.Printf("[%s] worker=%d objective=%q %s\n", label, d.WorkerNum, d.Objective, msg)
	case events.GapFillingProgressData:
		fmt.Printf("[%s] gap=%d/%d %s\n", label, d.GapIndex+1, d.TotalGaps, d.Status)
	case events.ResearchTerminalData:
		note := color.New(color.FgYellow).Sprint(d.Reason)
		fmt.Printf("[%s] duration=%s sources=%d cost=$%.4f %s\n", label, d.Duration, d.SourceCount, d.TotalUSD, note)
	default:
		fmt.Printf("[%s]\n", label)
	}
}
