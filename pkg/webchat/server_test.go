package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chat-relay/pkg/chat"
	"github.com/go-go-golems/chat-relay/pkg/client"
	"github.com/go-go-golems/chat-relay/pkg/config"
	"github.com/go-go-golems/chat-relay/pkg/responder"
)

const e2eTimeout = 3 * time.Second

func testSettings() config.Settings {
	return config.Settings{
		Host:              "127.0.0.1",
		Port:              config.DefaultPort,
		SecretKey:         config.DefaultSecretKey,
		IdleTimeout:       50 * time.Millisecond,
		SendBuffer:        64,
		WriteTimeout:      time.Second,
		EnableDebugRoutes: true,
	}
}

func newTestServer(t *testing.T, s config.Settings, opts ...ServerOption) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(context.Background(), s, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.shutdown(context.Background())
		ts.Close()
	})
	return srv, ts
}

func dialRelay(t *testing.T, ts *httptest.Server) *client.Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, err := client.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ev, err := c.ReadEvent(e2eTimeout)
	require.NoError(t, err)
	require.Equal(t, chat.EventConnected, ev.Name)
	require.Equal(t, "Connected to TC Chat", ev.Connected.Status)
	return c
}

func joinRelay(t *testing.T, c *client.Client, sessionID, name string) []chat.Message {
	t.Helper()
	require.NoError(t, c.Join(sessionID, name))
	ev, err := c.WaitFor(chat.EventChatHistory, e2eTimeout)
	require.NoError(t, err)
	return ev.History.Messages
}

func readEvents(t *testing.T, c *client.Client, n int) []client.Event {
	t.Helper()
	var out []client.Event
	for len(out) < n {
		ev, err := c.ReadEvent(e2eTimeout)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestServer_JoinAndConverse(t *testing.T) {
	_, ts := newTestServer(t, testSettings())
	alice := dialRelay(t, ts)
	bob := dialRelay(t, ts)
	carol := dialRelay(t, ts)

	history := joinRelay(t, alice, "S1", "Alice")
	require.Len(t, history, 1)
	require.Equal(t, chat.RoleAssistant, history[0].Role)
	require.Contains(t, history[0].Text, "Hi Alice!")

	require.Len(t, joinRelay(t, bob, "S1", "Bob"), 1)
	require.Len(t, joinRelay(t, carol, "S2", "Carol"), 1)

	require.NoError(t, alice.Send("Hello"))

	for _, c := range []*client.Client{alice, bob} {
		evs := readEvents(t, c, 4)
		require.Equal(t, chat.EventNewMessage, evs[0].Name)
		require.Equal(t, chat.RoleUser, evs[0].Message.Role)
		require.Equal(t, "Hello", evs[0].Message.Text)
		require.Equal(t, "Alice", evs[0].Message.User)

		require.Equal(t, chat.EventTyping, evs[1].Name)
		require.Equal(t, "Nicki (TC)", evs[1].Typing.User)
		require.Equal(t, chat.EventStopTyping, evs[2].Name)

		require.Equal(t, chat.EventNewMessage, evs[3].Name)
		require.Equal(t, chat.RoleAssistant, evs[3].Message.Role)
		require.Equal(t, "Thanks Alice, I received: Hello", evs[3].Message.Text)
		require.NotNil(t, evs[3].Message.Confidence)
	}

	// the other session hears nothing
	_, err := carol.ReadEvent(200 * time.Millisecond)
	require.Error(t, err)
}

func TestServer_RejoinSeesHistoryWithoutNewWelcome(t *testing.T) {
	_, ts := newTestServer(t, testSettings())
	alice := dialRelay(t, ts)
	joinRelay(t, alice, "S1", "Alice")
	require.NoError(t, alice.Send("Hello"))
	readEvents(t, alice, 4)

	again := dialRelay(t, ts)
	history := joinRelay(t, again, "S1", "Alice")
	require.Len(t, history, 3)
	require.Equal(t, []chat.Role{chat.RoleAssistant, chat.RoleUser, chat.RoleAssistant},
		[]chat.Role{history[0].Role, history[1].Role, history[2].Role})
	require.Less(t, history[0].Seq, history[1].Seq)
	require.Less(t, history[1].Seq, history[2].Seq)
}

func TestServer_IgnoresMalformedAndBlankFrames(t *testing.T) {
	_, ts := newTestServer(t, testSettings())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	read := func() chat.Envelope {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(e2eTimeout)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env chat.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	}
	require.Equal(t, chat.EventConnected, read().Event)

	for _, frame := range []string{
		`garbage`,
		`{"event":"reboot","data":{}}`,
		`{"event":"send_message","data":"nope"}`,
		`{"event":"send_message","data":{"message":"   "}}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	}
	// join without payload falls back to defaults and still answers
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"join_chat"}`)))

	env := read()
	require.Equal(t, chat.EventChatHistory, env.Event)
	var hp chat.HistoryPayload
	require.NoError(t, json.Unmarshal(env.Data, &hp))
	require.Len(t, hp.Messages, 1)
	require.Contains(t, hp.Messages[0].Text, "Hi Guest!")
}

func TestServer_EngineFailureBroadcastsApology(t *testing.T) {
	failing := responder.ClientFunc(func(context.Context, responder.Request) (responder.Result, error) {
		return responder.Result{}, context.DeadlineExceeded
	})
	_, ts := newTestServer(t, testSettings(), WithResponder(failing))
	alice := dialRelay(t, ts)
	joinRelay(t, alice, "S", "Alice")
	require.NoError(t, alice.Send("X"))

	evs := readEvents(t, alice, 4)
	require.True(t, evs[3].Message.Error)
	require.Equal(t, "I encountered an error. Please try again.", evs[3].Message.Text)
}

func TestServer_DisconnectDuringPendingResponse(t *testing.T) {
	release := make(chan struct{})
	slow := responder.ClientFunc(func(_ context.Context, req responder.Request) (responder.Result, error) {
		if req.SessionID == "slow" {
			<-release
		}
		return responder.Result{Response: "ok " + req.SessionID}, nil
	})
	srv, ts := newTestServer(t, testSettings(), WithResponder(slow))

	leaver := dialRelay(t, ts)
	joinRelay(t, leaver, "slow", "Alice")
	require.NoError(t, leaver.Send("hi"))
	readEvents(t, leaver, 2)
	require.NoError(t, leaver.Close())

	other := dialRelay(t, ts)
	joinRelay(t, other, "fast", "Bob")
	require.NoError(t, other.Send("hello"))
	evs := readEvents(t, other, 4)
	require.Equal(t, "ok fast", evs[3].Message.Text)

	close(release)
	srv.router.Wait()

	resp, err := http.Get(ts.URL + "/api/debug/sessions/slow/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Messages []chat.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Messages, 3)
	require.Equal(t, "ok slow", body.Messages[2].Text)
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, testSettings())
	alice := dialRelay(t, ts)
	joinRelay(t, alice, "S1", "Alice")
	bob := dialRelay(t, ts)
	joinRelay(t, bob, "S2", "Bob")

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body["status"])
	require.NotEmpty(t, body["timestamp"])
	require.EqualValues(t, 2, body["active_sessions"])
	require.EqualValues(t, 2, body["active_users"])
}

func TestServer_DebugRoutes(t *testing.T) {
	_, ts := newTestServer(t, testSettings())
	resp, err := http.Get(ts.URL + "/api/debug/sessions/nope/messages")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	s := testSettings()
	s.EnableDebugRoutes = false
	_, plain := newTestServer(t, s)
	resp, err = http.Get(plain.URL + "/api/debug/sessions")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_DebugConnectionsListsSessionMembers(t *testing.T) {
	_, ts := newTestServer(t, testSettings())
	alice := dialRelay(t, ts)
	joinRelay(t, alice, "S1", "Alice")
	bob := dialRelay(t, ts)
	joinRelay(t, bob, "S1", "Bob")
	carol := dialRelay(t, ts)
	joinRelay(t, carol, "S2", "Carol")

	var body struct {
		SessionID   string   `json:"session_id"`
		Connections []string `json:"connections"`
	}
	resp, err := http.Get(ts.URL + "/api/debug/sessions/S1/connections")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "S1", body.SessionID)
	require.Len(t, body.Connections, 2)

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/api/debug/sessions/S1/connections")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var b struct {
			Connections []string `json:"connections"`
		}
		return json.NewDecoder(r.Body).Decode(&b) == nil && len(b.Connections) == 1
	}, e2eTimeout, 10*time.Millisecond)
}
