// searchbench runs the parallel search workers against a fixed root
// position and reports tree statistics, optionally streaming them to a
// live TUI and dumping a diagnostics row per worker to parquet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brensch/neuralmcts/game"
	"github.com/brensch/neuralmcts/inference"
	"github.com/brensch/neuralmcts/monitor"
	"github.com/brensch/neuralmcts/node"
	"github.com/brensch/neuralmcts/search"
	"github.com/brensch/neuralmcts/store"
)

func main() {
	boardSize := flag.Int("size", 9, "board size")
	batchSize := flag.Int("batch", 16, "mini-batch size per worker")
	numWorkers := flag.Int("workers", 4, "parallel search workers")
	nodesCap := flag.Uint64("nodes", 100000, "node cap (0 = unbounded)")
	simsCap := flag.Uint64("sims", 0, "simulation cap (0 = unbounded)")
	modelPaths := flag.String("model", "", "comma-separated ONNX model paths, one per game phase")
	remoteURL := flag.String("remote", "", "websocket inference server url")
	rollout := flag.Bool("rollout", false, "replace the network with random rollouts")
	phases := flag.Int("phases", 1, "number of routed game phases")
	vloss := flag.Float64("vloss", 1, "virtual loss weight")
	cpuct := flag.Float64("cpuct", 2.5, "puct exploration constant")
	temperature := flag.Float64("temp", 1, "prior policy temperature")
	epsGreedy := flag.Int("eps-greedy", 0, "epsilon-greedy prelude counter (0 = off)")
	epsChecks := flag.Int("eps-checks", 0, "epsilon-checks prelude counter (0 = off)")
	solver := flag.Bool("solver", true, "propagate proven outcomes")
	storeStates := flag.Bool("store-states", false, "keep a state snapshot on every node")
	noTT := flag.Bool("no-tt", false, "disable the transposition table")
	outDir := flag.String("out", "", "directory for parquet diagnostics (empty = off)")
	tui := flag.Bool("tui", false, "live terminal monitor")
	seed := flag.Int64("seed", time.Now().UnixNano(), "base PRNG seed")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	settings := search.DefaultSettings()
	settings.BatchSize = *batchSize
	settings.PhaseCount = *phases
	settings.VirtualLoss = float32(*vloss)
	settings.CPuct = float32(*cpuct)
	settings.PolicyTemperature = float32(*temperature)
	settings.EpsilonGreedyCounter = *epsGreedy
	settings.EpsilonChecksCounter = *epsChecks
	settings.SolverEnabled = *solver
	settings.StoreStates = *storeStates
	settings.UseTranspositionTable = !*noTT
	settings.RolloutMode = *rollout

	rootState := game.NewPosition(*boardSize)

	nets, err := buildEvaluators(&settings, rootState, *modelPaths, *remoteURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build evaluators")
	}

	table := node.NewTable()
	root := node.NewRoot(table, rootState, &settings.Params, settings.StoreStates)
	var rootEval inference.Evaluator
	if len(nets) > 0 {
		rootEval = nets[0]
	}
	search.ExpandRoot(root, rootState, rootEval, &settings)

	limits := &search.Limits{Nodes: *nodesCap, Simulations: *simsCap}
	workers := make([]*search.Worker, *numWorkers)
	for i := range workers {
		w := search.NewWorker(nets, &settings, table, *seed+int64(i))
		w.SetRootState(rootState.Clone())
		w.SetRootNode(root)
		w.SetSearchLimits(limits)
		workers[i] = w
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Int("workers", *numWorkers).
		Int("batch", *batchSize).
		Int("board", *boardSize).
		Bool("rollout", settings.RolloutMode).
		Msg("starting search")

	var searchDone atomic.Bool
	start := time.Now()

	if *tui {
		program := monitor.New(func() monitor.Snapshot {
			var iterations uint64
			maxDepth := 0
			for _, w := range workers {
				iterations += w.Stats().Iterations.Load()
				if d := w.MaxDepth(); d > maxDepth {
					maxDepth = d
				}
			}
			return monitor.Snapshot{
				Nodes:      table.NodeCount(),
				RootVisits: root.VisitsAtomic(),
				Iterations: iterations,
				MaxDepth:   maxDepth,
				Done:       searchDone.Load(),
			}
		})
		go func() {
			search.RunParallel(ctx, workers)
			searchDone.Store(true)
		}()
		if _, err := program.Run(); err != nil {
			log.Error().Err(err).Msg("monitor failed")
		}
		// quitting the TUI also abandons the search
		for _, w := range workers {
			w.Stop()
		}
	} else {
		search.RunParallel(ctx, workers)
		searchDone.Store(true)
	}

	duration := time.Since(start)
	report(workers, root, table, rootState, duration)

	if *outDir != "" {
		if err := dumpDiagnostics(*outDir, workers, root, table, &settings, *boardSize, *numWorkers, duration); err != nil {
			log.Error().Err(err).Msg("failed to write diagnostics")
		}
	}
}

func buildEvaluators(settings *search.Settings, state *game.Position, modelPaths, remoteURL string) ([]inference.Evaluator, error) {
	if settings.RolloutMode {
		return nil, nil
	}

	switch {
	case modelPaths != "":
		paths := strings.Split(modelPaths, ",")
		nets := make([]inference.Evaluator, 0, len(paths))
		for _, path := range paths {
			eval, err := inference.NewOnnxEvaluator(strings.TrimSpace(path), inference.OnnxConfig{
				Planes:      state.NumPlaneValues() / (state.Size() * state.Size()),
				Height:      state.Size(),
				Width:       state.Size(),
				PolicySize:  state.PolicySize(),
				IsPolicyMap: true,
			})
			if err != nil {
				return nil, fmt.Errorf("load model %s: %w", path, err)
			}
			nets = append(nets, eval)
		}
		return nets, nil

	case remoteURL != "":
		eval, err := inference.NewRemoteEvaluator(remoteURL, inference.RemoteConfig{
			NumInputValues: state.NumPlaneValues(),
			PolicySize:     state.PolicySize(),
			IsPolicyMap:    true,
		})
		if err != nil {
			return nil, err
		}
		return []inference.Evaluator{eval}, nil

	default:
		log.Warn().Msg("no model or remote evaluator configured, falling back to rollouts")
		settings.RolloutMode = true
		return nil, nil
	}
}

func report(workers []*search.Worker, root *node.Node, table *node.Table, state *game.Position, duration time.Duration) {
	root.Lock()
	best := root.BestChildIdx()
	bestAction := root.Action(best)
	bestQ := root.QValue(best)
	root.Unlock()

	nodes := table.NodeCount()
	maxDepth := 0
	for _, w := range workers {
		if d := w.MaxDepth(); d > maxDepth {
			maxDepth = d
		}
	}

	log.Info().
		Uint64("nodes", nodes).
		Float32("root_visits", root.VisitsAtomic()).
		Int("max_depth", maxDepth).
		Float64("nodes_per_s", float64(nodes)/duration.Seconds()).
		Str("best_move", fmt.Sprintf("%c%d", 'a'+int(bestAction)%state.Size(), int(bestAction)/state.Size()+1)).
		Float32("best_q", bestQ).
		Dur("duration", duration).
		Msg("search complete")
}

func dumpDiagnostics(outDir string, workers []*search.Worker, root *node.Node, table *node.Table, settings *search.Settings, boardSize, numWorkers int, duration time.Duration) error {
	root.Lock()
	best := root.BestChildIdx()
	bestAction := root.Action(best)
	bestQ := root.QValue(best)
	root.Unlock()

	runID := fmt.Sprintf("bench_%d", time.Now().UnixNano())
	rows := make([]store.SearchRow, 0, len(workers))
	for i, w := range workers {
		rows = append(rows, store.SearchRow{
			RunID:      runID,
			WorkerID:   int32(i),
			BoardSize:  int32(boardSize),
			BatchSize:  int32(settings.BatchSize),
			NumWorkers: int32(numWorkers),
			Nodes:      int64(table.NodeCount()),
			RootVisits: root.VisitsAtomic(),
			Iterations: int64(w.Stats().Iterations.Load()),
			MaxDepth:   int32(w.MaxDepth()),
			AvgDepth:   int32(w.AvgDepth()),
			TBHits:     int64(w.TBHits()),
			DurationMS: duration.Milliseconds(),
			NodesPerS:  float32(float64(table.NodeCount()) / duration.Seconds()),
			BestAction: int32(bestAction),
			BestQ:      bestQ,
		})
	}

	path, err := store.AppendSearchParquet(outDir, rows)
	if err != nil {
		return err
	}
	log.Info().Str("path", path).Int("rows", len(rows)).Msg("diagnostics written")
	return nil
}
