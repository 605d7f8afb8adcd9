package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/randalmurphal/hilo/internal/state"
)

// readCommands turns lines like "p swap probe" or "end" into commands for
// the worker. It returns at EOF; the caller does not wait for it, since a
// terminal read cannot be interrupted.
func readCommands(in io.Reader, st *state.ExecutionState, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		word, reason, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		if word == "" {
			continue
		}
		cmd, err := state.ParseCommand(word)
		if err != nil {
			_, _ = fmt.Fprintf(out, "unknown command %q (p pause, r resume, c cancel, e end)\n", word)
			continue
		}
		if st.RunState().IsTerminal() {
			return
		}
		seq := st.RequestCommand(cmd, strings.TrimSpace(reason))
		_, _ = fmt.Fprintf(out, "→ %s requested (#%d)\n", cmd, seq)
	}
}
