package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/randalmurphal/hilo/internal/events"
	"github.com/randalmurphal/hilo/internal/state"
)

func dialWS(t *testing.T, s *Server, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readType reads messages until one of the given type arrives.
func readType(t *testing.T, conn *websocket.Conn, msgType string) gjson.Result {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		msg := gjson.ParseBytes(data)
		if msg.Get("type").String() == msgType {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func waitForSubscribers(t *testing.T, pub *events.MemoryPublisher, runID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return pub.SubscriberCount(runID) == n },
		2*time.Second, 5*time.Millisecond)
}

func TestWS_StreamsRunEvents(t *testing.T) {
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	run := newFakeRun(t)
	s := newTestServer(t, WithRun(run), WithPublisher(pub))

	conn := dialWS(t, s, "")
	waitForSubscribers(t, pub, "run-1", 1)

	helper := events.NewPublishHelper(pub, "run-1")
	helper.Halted(2, 3, "probe swap")
	pub.Publish(events.NewEvent(events.EventError, "other-run", nil))
	helper.AllComplete(events.CompleteData{Total: 2, Completed: 2})

	first := readType(t, conn, "event")
	assert.Equal(t, "execution_halted", first.Get("event.type").String())
	assert.Equal(t, "probe swap", first.Get("event.data.reason").String())
	assert.EqualValues(t, 1, first.Get("event.seq").Int())

	second := readType(t, conn, "event")
	assert.Equal(t, "all_complete", second.Get("event.type").String(), "other runs are filtered out")
}

func TestWS_GlobalSubscription(t *testing.T) {
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	s := newTestServer(t, WithPublisher(pub))

	conn := dialWS(t, s, "?run=*")
	waitForSubscribers(t, pub, events.GlobalRunID, 1)

	pub.Publish(events.NewEvent(events.EventError, "bench-2", events.ErrorData{Kind: "pause_timeout"}))
	msg := readType(t, conn, "event")
	assert.Equal(t, "bench-2", msg.Get("event.run_id").String())
}

func TestWS_Command(t *testing.T) {
	run := newFakeRun(t)
	s := newTestServer(t, WithRun(run))
	conn := dialWS(t, s, "")

	ackNext(run.st)
	send(t, conn, map[string]any{"type": "command", "command": "pause", "reason": "scope", "id": 7})

	ack := readType(t, conn, "ack")
	assert.Equal(t, "pause", ack.Get("command.command").String())
	assert.True(t, ack.Get("command.acknowledged").Bool())
	assert.EqualValues(t, 7, ack.Get("id").Int())

	history := run.st.Commands()
	require.Len(t, history, 1)
	assert.Equal(t, "scope", history[0].Reason)
}

func TestWS_CommandRejected(t *testing.T) {
	run := newFakeRun(t)
	run.st.Finish(state.RunEnded)
	s := newTestServer(t, WithRun(run))
	conn := dialWS(t, s, "")

	send(t, conn, map[string]any{"type": "command", "command": "resume"})
	msg := readType(t, conn, "command_error")
	assert.Equal(t, "COMMAND_REJECTED", msg.Get("error.code").String())
}

func TestWS_StatusAndPing(t *testing.T) {
	run := newFakeRun(t)
	s := newTestServer(t, WithRun(run))
	conn := dialWS(t, s, "")

	send(t, conn, map[string]string{"type": "status"})
	status := readType(t, conn, "status")
	assert.Equal(t, "run-1", status.Get("status.run_id").String())
	assert.Equal(t, "running", status.Get("status.state.run_state").String())

	send(t, conn, map[string]string{"type": "ping"})
	readType(t, conn, "pong")
}

func TestWS_BadMessages(t *testing.T) {
	s := newTestServer(t, WithRun(newFakeRun(t)))
	conn := dialWS(t, s, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "invalid message format", readType(t, conn, "error").Get("error").String())

	send(t, conn, map[string]string{"type": "reboot"})
	assert.Contains(t, readType(t, conn, "error").Get("error").String(), "unknown message type")

	send(t, conn, map[string]string{"type": "command", "command": "reboot"})
	assert.Contains(t, readType(t, conn, "error").Get("error").String(), "unknown command")
}

func TestWS_CloseUnsubscribes(t *testing.T) {
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	s := newTestServer(t, WithRun(newFakeRun(t)), WithPublisher(pub))

	conn := dialWS(t, s, "")
	waitForSubscribers(t, pub, "run-1", 1)
	require.Equal(t, 1, s.ws.ConnectionCount())

	require.NoError(t, conn.Close())
	waitForSubscribers(t, pub, "run-1", 0)
	assert.Eventually(t, func() bool { return s.ws.ConnectionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
