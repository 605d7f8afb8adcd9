package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/randalmurphal/hilo/internal/state"
)

// watchInterrupts turns the first SIGINT/SIGTERM into a cancel command,
// which the worker honors at its next checkpoint. A second signal cancels
// ctx and abandons the in-flight iteration. The returned func stops
// watching.
func watchInterrupts(st *state.ExecutionState, hardStop context.CancelFunc, out io.Writer) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go forwardInterrupts(sigCh, done, st, hardStop, out)

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func forwardInterrupts(sigCh <-chan os.Signal, done <-chan struct{}, st *state.ExecutionState, hardStop context.CancelFunc, out io.Writer) {
	select {
	case sig := <-sigCh:
		_, _ = fmt.Fprintf(out, "\n⚠️  Received %s, cancelling at the next checkpoint (again to stop now)...\n", sig)
		st.RequestCommand(state.CommandCancel, "interrupted")
	case <-done:
		return
	}

	select {
	case sig := <-sigCh:
		_, _ = fmt.Fprintf(out, "\n🛑 Received %s again, stopping now\n", sig)
		hardStop()
	case <-done:
	}
}
