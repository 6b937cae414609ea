package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// installSignalGuard returns a context that is cancelled the moment the
// process receives SIGINT/SIGTERM, so Run's deferred restoration still
// executes before the process exits (spec §5 "signal handler or
// equivalent scope guard").
func installSignalGuard(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-done:
		}
	}()

	stop := func() {
		close(done)
		signal.Stop(sigCh)
		cancel()
	}
	return ctx, stop
}
