package search

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// RunSearchWorker drives one worker until it is stopped, a node cap is
// reached, or the root is solved. Blocks until the loop exits.
func RunSearchWorker(w *Worker) {
	w.running.Store(true)
	w.resetStats()
	for w.IsRunning() && w.nodesLimitsOK() && w.isRootUnsolved() {
		w.ThreadIteration()
	}
	w.running.Store(false)
}

// RunParallel runs all workers against their shared tree and waits for
// every one of them to stop. Cancelling ctx stops the workers after their
// current iteration; their backups complete before they return.
func RunParallel(ctx context.Context, workers []*Worker) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			for _, w := range workers {
				w.Stop()
			}
		case <-done:
		}
	}()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			RunSearchWorker(w)
			return nil
		})
	}
	_ = g.Wait()
	close(done)

	// once any worker hits a shared cap or solves the root, the rest
	// notice on their next loop check; log the final shape of the search
	if len(workers) > 0 {
		w := workers[0]
		log.Debug().
			Uint64("nodes", w.table.NodeCount()).
			Float32("root_visits", w.rootNode.VisitsAtomic()).
			Int("max_depth", w.MaxDepth()).
			Msg("search finished")
	}
}
