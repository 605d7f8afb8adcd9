package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/hilo/internal/api"
	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
	"github.com/randalmurphal/hilo/internal/progress"
	"github.com/randalmurphal/hilo/internal/state"
)

// controlClient talks to the control API of a running hilo.
type controlClient struct {
	base string
	http *http.Client
}

func newControlClient(addr string, timeout time.Duration) *controlClient {
	base := strings.TrimSuffix(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &controlClient{base: base, http: &http.Client{Timeout: timeout}}
}

func (c *controlClient) status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *controlClient) send(ctx context.Context, cmd state.Command, reason string, wait bool) (*api.CommandResponse, error) {
	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return nil, err
	}
	path := "/api/commands/" + url.PathEscape(cmd.String())
	if !wait {
		path += "?wait=false"
	}
	var resp api.CommandResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends one request. Error responses are turned back into structured
// errors when the server sent one.
func (c *controlClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	e := gjson.GetBytes(data, "error")
	if code := e.Get("code").String(); code != "" {
		return &hiloerrors.HiloError{
			Code: hiloerrors.Code(code),
			What: e.Get("what").String(),
			Why:  e.Get("why").String(),
			Fix:  e.Get("fix").String(),
		}
	}
	if what := e.Get("what").String(); what != "" {
		return fmt.Errorf("server returned %d: %s", status, what)
	}
	return fmt.Errorf("server returned %d", status)
}

// controlAddr resolves --addr against the configured server address.
func controlAddr(cmd *cobra.Command) (string, error) {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		return addr, nil
	}
	tc, err := loadConfig()
	if err != nil {
		return "", err
	}
	return tc.Config.Server.Addr(), nil
}

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running hilo",
		Long: `Query the control API of a run started with --serve.

Examples:
  hilo status
  hilo status --addr bench-3:8470`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := controlAddr(cmd)
			if err != nil {
				return err
			}
			st, err := newControlClient(addr, 10*time.Second).status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, st)
			}
			printStatus(out, st)
			return nil
		},
	}
	cmd.Flags().String("addr", "", "control API address (default: server.host:server.port)")
	return cmd
}

func printStatus(out io.Writer, st *api.StatusResponse) {
	s := st.State
	_, _ = fmt.Fprintf(out, "Run:        %s (%s)\n", st.RunID, s.RunState)
	_, _ = fmt.Fprintf(out, "Experiment: %d/%d (%d completed)\n", s.CurrentExperiment, s.TotalExperiments, s.CompletedExperiments)
	_, _ = fmt.Fprintf(out, "Iteration:  %d/%d\n", s.CurrentIteration, s.TotalIterations)
	_, _ = fmt.Fprintf(out, "Progress:   %s %.1f%%\n", progress.Bar(st.Progress.Overall, 20), st.Progress.Overall*100)
	_, _ = fmt.Fprintf(out, "ETA:        %s\n", dash(st.ETA))
	if s.PendingName != "" && s.PendingName != state.CommandNone.String() {
		_, _ = fmt.Fprintf(out, "Pending:    %s (acknowledged: %t)\n", s.PendingName, s.Acknowledged)
	}
}

// newCommandCmd creates the command command.
func newCommandCmd() *cobra.Command {
	var (
		reason string
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "command <pause|resume|cancel|end> [reason]",
		Short: "Send a control command to a running hilo",
		Long: `Send pause, resume, cancel, or end to a run started with --serve.

By default the command waits until the worker acknowledges it at its next
checkpoint. Short forms p, r, c, and e are accepted.

Examples:
  hilo command pause "swap scope probe"
  hilo command resume
  hilo command end --no-wait`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := state.ParseCommand(args[0])
			if err != nil {
				return err
			}
			if len(args) == 2 {
				reason = args[1]
			}
			addr, err := controlAddr(cmd)
			if err != nil {
				return err
			}

			resp, err := newControlClient(addr, time.Minute).send(cmd.Context(), c, reason, !noWait)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, resp)
			}
			if resp.Acknowledged {
				_, _ = fmt.Fprintf(out, "✓ %s acknowledged (#%d)\n", resp.Command, resp.Seq)
			} else {
				_, _ = fmt.Fprintf(out, "→ %s requested (#%d)\n", resp.Command, resp.Seq)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "control API address (default: server.host:server.port)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the command")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return without waiting for acknowledgment")
	return cmd
}
