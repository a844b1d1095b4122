// Command ralph drives the scheduler described in spec.md over a PRD file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ralph/internal/agentproc"
	"ralph/internal/archive"
	"ralph/internal/checkpoint"
	"ralph/internal/config"
	"ralph/internal/events"
	"ralph/internal/futility"
	"ralph/internal/gate"
	"ralph/internal/graph"
	"ralph/internal/history"
	"ralph/internal/iteration"
	"ralph/internal/logx"
	"ralph/internal/model"
	"ralph/internal/obsmetrics"
	"ralph/internal/prd"
	"ralph/internal/scheduler"
	"ralph/internal/vcs"

	"github.com/prometheus/client_golang/prometheus"
)

var appLog = logx.New("cmd")

const templatePRD = `{
  "project": "my-project",
  "branchName": "main",
  "userStories": [
    {
      "id": "story-1",
      "title": "Describe the first unit of work",
      "priority": 1,
      "passes": false,
      "acceptanceCriteria": []
    }
  ]
}
`

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "init" {
		handleInit(os.Args[2:])
		return
	}

	var dir, prdPath string
	var maxIterations int
	var parallel bool
	var maxConcurrency int64

	flag.StringVar(&dir, "dir", ".", "working directory")
	flag.StringVar(&prdPath, "prd", "", "override PRD path (default: <dir>/prd.json)")
	flag.IntVar(&maxIterations, "n", 10, "per-story iteration cap")
	flag.BoolVar(&parallel, "parallel", false, "enable the parallel scheduler")
	flag.Int64Var(&maxConcurrency, "max-concurrency", 3, "maximum concurrent story workers (>=1)")
	flag.Parse()

	os.Exit(run(dir, prdPath, maxIterations, parallel, maxConcurrency))
}

func handleInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dir := fs.String("dir", ".", "directory to write prd.json into")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "parse init flags: %v\n", err)
		os.Exit(1)
	}

	path := filepath.Join(*dir, "prd.json")
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "%s already exists, not overwriting\n", path)
		os.Exit(1)
	}
	if err := os.WriteFile(path, []byte(templatePRD), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write template PRD: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote template PRD to %s\n", path)
}

// run wires the full pipeline and returns a process exit code.
func run(dir, prdPath string, maxIterations int, parallel bool, maxConcurrency int64) int {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("create working dir: %v", err)
		return 1
	}

	if prdPath == "" {
		prdPath = filepath.Join(dir, "prd.json")
	}

	document, err := prd.Load(prdPath)
	if err != nil {
		log.Printf("load PRD: %v", err)
		return 1
	}

	if err := archive.RotateIfBranchChanged(dir, document.BranchName, time.Now().Format("2006-01-02")); err != nil {
		appLog.Warn("archive rotation failed: %v", err)
	}

	parallelCfg := document.ParallelOrDefault()
	if parallel {
		parallelCfg.Enabled = true
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if parallelCfg.Enabled {
		maxConcurrency = int64(parallelCfg.MaxConcurrency)
	} else {
		maxConcurrency = 1
	}

	g, err := graph.Build(document)
	if err != nil {
		log.Printf("build dependency graph: %v", err)
		return 1
	}

	agentBinary := os.Getenv("RALPH_AGENT_BINARY")
	if agentBinary == "" {
		agentBinary = "claude"
	}

	configOverridePath := filepath.Join(dir, ".ralph", "config.yaml")
	if _, statErr := os.Stat(configOverridePath); statErr == nil {
		if loadErr := config.LoadFile(configOverridePath); loadErr != nil {
			appLog.Warn("load config override: %v", loadErr)
		}
	}
	cfg := config.Get()
	// candidateGates is spec.md §6's example gate set; only the ones whose
	// binary actually resolves on PATH are wired into a story's GateList,
	// since an unresolved gate always reports Passed: false and would
	// otherwise strand every story on a gate nobody configured.
	candidateGates := []string{"lint", "format", "test", "coverage", "security_audit"}
	var gateList []string
	gateCommands := make(map[string][]string, len(candidateGates))
	for _, name := range candidateGates {
		if path, lookErr := exec.LookPath(name); lookErr == nil {
			gateCommands[name] = []string{path}
			gateList = append(gateList, name)
		}
	}
	gateRunner := gate.CommandRunner{Commands: gateCommands}

	engineFor := func(storyID string) *iteration.Engine {
		agent := &agentproc.Runner{
			BinaryPath:         agentBinary,
			NonInteractiveArgs: []string{"--non-interactive", "--print"},
			WorkDir:            dir,
		}
		e := iteration.NewEngine(agent, gateRunner, gateList, cfg.Retry, cfg.Timeouts)
		e.Futility = futility.NewWithConfig(cfg.Futility)
		return e
	}

	checkpointStore, err := checkpoint.New(dir)
	if err != nil {
		log.Printf("open checkpoint store: %v", err)
		return 1
	}

	// checkpoint.New already created <dir>/.ralph above.
	if err := history.Initialize(filepath.Join(dir, ".ralph", "history.db")); err != nil {
		appLog.Warn("open history store: %v", err)
	}

	s := scheduler.New(g, maxConcurrency, agentBinary, engineFor)
	s.WorkDir = dir
	s.Timeouts = cfg.Timeouts
	s.MaxIterations = maxIterations
	s.CheckpointStore = checkpointStore
	s.VCS = vcs.GitReader{}
	s.Metrics = obsmetrics.New(prometheus.NewRegistry())
	if history.IsInitialized() {
		s.History = history.NewOps()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if sig == syscall.SIGTERM {
			// Immediate interrupt: kill the in-flight agent subprocess by
			// cancelling the context it's bound to.
			appLog.Info("terminate received, interrupting immediately")
			s.Events.Emit(events.Event{Kind: events.KindImmediateInterrupt})
			s.Pause.RequestPause()
			cancel()
			return
		}
		// Graceful quit: let the current iteration finish and only then
		// refuse new work, so the subprocess-bounding context stays live.
		appLog.Info("interrupt received, requesting pause")
		s.Events.Emit(events.Event{Kind: events.KindGracefulQuitRequested})
		s.Pause.RequestPause()
	}()

	result := s.Run(ctx)

	if err := writeProgress(dir, result); err != nil {
		appLog.Warn("write progress log: %v", err)
	}

	if !result.Paused {
		// A paused run's checkpoint was already written by the
		// scheduler itself, as the sole writer of pause checkpoints.
		if err := persistCheckpoint(checkpointStore, result); err != nil {
			appLog.Warn("persist checkpoint: %v", err)
		}
	}

	fmt.Printf("stories passed: %d/%d, iterations: %d\n", result.StoriesPassed, result.TotalStories, result.TotalIterations)
	if result.Paused {
		fmt.Println("paused: checkpoint saved, resume by rerunning against the same working directory")
	}
	if result.Error != "" {
		fmt.Fprintf(os.Stderr, "error: %s\n", result.Error)
	}

	if result.AllPassed {
		return 0
	}
	return 1
}

func writeProgress(dir string, result model.RunResult) error {
	path := filepath.Join(dir, "progress.txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open progress log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s passed=%d/%d iterations=%d", time.Now().Format(time.RFC3339), result.StoriesPassed, result.TotalStories, result.TotalIterations)
	if result.Error != "" {
		line += " error=" + result.Error
	}
	_, err = fmt.Fprintln(f, line)
	return err
}

func persistCheckpoint(store *checkpoint.Store, result model.RunResult) error {
	if result.AllPassed {
		return store.Clear()
	}
	cp := &model.Checkpoint{
		Version:   model.CurrentCheckpointVersion,
		CreatedAt: time.Now(),
		PauseReason: model.PauseReason{
			Kind:  model.PauseReasonError,
			Error: result.Error,
		},
	}
	return store.Save(cp)
}
