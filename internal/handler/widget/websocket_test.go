package widget

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/troikatech/chatwidget/internal/model/chat"
	widgetmodel "github.com/troikatech/chatwidget/internal/model/widget"
)

type fakeGateway struct {
	mu    sync.Mutex
	ended []string
}

func (g *fakeGateway) CreateSession(ctx context.Context, projectID string) (string, error) {
	return "sess-" + projectID, nil
}

func (g *fakeGateway) EndSession(ctx context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ended = append(g.ended, sessionID)
	return nil
}

func (g *fakeGateway) endedSessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ended...)
}

func (g *fakeGateway) SendMessage(ctx context.Context, req chat.SendRequest) (chat.Reply, error) {
	return chat.Reply{Message: "echo: " + req.Message, Sources: []string{"kb"}}, nil
}

func (g *fakeGateway) SessionHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return []chat.Message{{ID: 1, Text: "earlier", Sender: chat.SenderUser}}, nil
}

func (g *fakeGateway) ProjectConfig(ctx context.Context, projectID string) (widgetmodel.Config, error) {
	return widgetmodel.Default(), nil
}

type frame struct {
	Type     string          `json:"type"`
	WidgetID string          `json:"widgetId"`
	Data     json.RawMessage `json:"data"`
}

func dial(t *testing.T, gw *fakeGateway) *websocket.Conn {
	t.Helper()
	h := NewWebSocketHandler(gw, Settings{TypingDelay: 10 * time.Millisecond}, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/widget/proj_42/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first frame matching match, failing after a timeout.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func botMessage(text string) func(frame) bool {
	return func(f frame) bool {
		if f.Type != "message" {
			return false
		}
		var ev chat.Event
		if err := json.Unmarshal(f.Data, &ev); err != nil || ev.Message == nil {
			return false
		}
		return ev.Message.Sender == chat.SenderBot && ev.Message.Text == text
	}
}

func TestWebSocketConversation(t *testing.T) {
	gw := &fakeGateway{}
	conn := dial(t, gw)

	ready := readUntil(t, conn, func(f frame) bool { return f.Type == "ready" })
	require.NotEmpty(t, ready.WidgetID)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "open"}))
	readUntil(t, conn, botMessage(widgetmodel.DefaultWelcomeMessage))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "send", "data": map[string]string{"text": "hello"}}))
	reply := readUntil(t, conn, botMessage("echo: hello"))
	require.Equal(t, ready.WidgetID, reply.WidgetID)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "history"}))
	history := readUntil(t, conn, func(f frame) bool { return f.Type == "history" })
	var msgs []chat.Message
	require.NoError(t, json.Unmarshal(history.Data, &msgs))
	require.Len(t, msgs, 1)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return len(gw.endedSessions()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"sess-proj_42"}, gw.endedSessions())
}

func TestWebSocketReportsValidationErrors(t *testing.T) {
	conn := dial(t, &fakeGateway{})
	readUntil(t, conn, func(f frame) bool { return f.Type == "ready" })

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "send", "data": map[string]string{"text": "too early"}}))
	f := readUntil(t, conn, func(f frame) bool { return f.Type == "error" })

	var payload errorPayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	require.Equal(t, "validation", string(payload.Kind))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	f = readUntil(t, conn, func(f frame) bool { return f.Type == "error" })
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	require.Contains(t, payload.Message, "dance")
}

func TestWebSocketExplicitEnd(t *testing.T) {
	gw := &fakeGateway{}
	conn := dial(t, gw)
	readUntil(t, conn, func(f frame) bool { return f.Type == "ready" })

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "open"}))
	readUntil(t, conn, botMessage(widgetmodel.DefaultWelcomeMessage))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "end"}))
	readUntil(t, conn, func(f frame) bool {
		if f.Type != "state" {
			return false
		}
		var ev struct {
			State string `json:"state"`
		}
		return json.Unmarshal(f.Data, &ev) == nil && ev.State == "ended"
	})

	require.NoError(t, conn.Close())
	// Already ended: disconnect must not end it twice.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []string{"sess-proj_42"}, gw.endedSessions())
}
