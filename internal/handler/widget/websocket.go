package widget

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/troikatech/chatwidget/internal/metrics"
	"github.com/troikatech/chatwidget/internal/model/chat"
	widgetservice "github.com/troikatech/chatwidget/internal/service/widget"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	writeWait    = 10 * time.Second
	endTimeout   = 5 * time.Second
	outboxSize   = 64
)

// Settings carries the pipeline options applied to every widget the handler
// mounts.
type Settings struct {
	// TypingDelay of zero selects the pipeline default; negative disables it.
	TypingDelay      time.Duration
	ReleaseLockEarly bool
}

// WebSocketHandler 将一个 WebSocket 连接桥接到一个部件实例
type WebSocketHandler struct {
	gateway  widgetservice.Gateway
	settings Settings
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(gw widgetservice.Gateway, settings Settings, m *metrics.Metrics) *WebSocketHandler {
	return &WebSocketHandler{
		gateway:  gw,
		settings: settings,
		metrics:  m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/widget/{projectID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type sendPayload struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	WidgetID  string `json:"widgetId"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type readyPayload struct {
	Config  any          `json:"config"`
	Session chat.Session `json:"session"`
}

type errorPayload struct {
	Kind    widgetservice.ErrorKind `json:"kind"`
	Message string                  `json:"message"`
}

// connection owns the outbox of one socket. Only writeLoop touches conn for
// writing.
type connection struct {
	conn   *websocket.Conn
	widget *widgetservice.Widget
	outbox chan outgoingMessage
	done   chan struct{}
	wg     sync.WaitGroup
}

func (c *connection) push(msgType string, data any) {
	msg := outgoingMessage{
		Type:      msgType,
		WidgetID:  c.widget.ID(),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	select {
	case c.outbox <- msg:
	case <-c.done:
	default:
		log.Warn().
			Str("component", "websocket").
			Str("widget_id", c.widget.ID()).
			Str("type", msgType).
			Msg("outbox full, dropping message")
	}
}

func (c *connection) pushError(err error) {
	kind, text := widgetservice.Classify(err)
	c.push("error", errorPayload{Kind: kind, Message: text})
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if h.gateway == nil {
		http.Error(w, "chat backend unavailable", http.StatusServiceUnavailable)
		return
	}

	wdg, err := widgetservice.Mount(r.Context(), widgetservice.Options{
		ProjectID:        projectID,
		Gateway:          h.gateway,
		TypingDelay:      h.settings.TypingDelay,
		ReleaseLockEarly: h.settings.ReleaseLockEarly,
		Metrics:          h.metrics,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer wdg.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "websocket").Msg("upgrade failed")
		return
	}
	defer conn.Close()

	logger := log.With().
		Str("component", "websocket").
		Str("widget_id", wdg.ID()).
		Str("project_id", projectID).
		Logger()
	logger.Info().Msg("connection opened")

	c := &connection{
		conn:   conn,
		widget: wdg,
		outbox: make(chan outgoingMessage, outboxSize),
		done:   make(chan struct{}),
	}
	unsubscribe := wdg.Subscribe(func(ev chat.Event) {
		c.push(string(ev.Type), ev)
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.push("ready", readyPayload{Config: wdg.Config(), Session: wdg.Session()})

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("read error")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(r.Context(), c, msg)
	}

	// The page went away. Closing first aborts in-flight calls so no session
	// can become active after the check below.
	unsubscribe()
	wdg.Close()
	c.wg.Wait()
	if wdg.Session().State == chat.StateActive {
		endCtx, cancel := context.WithTimeout(context.Background(), endTimeout)
		if err := wdg.End(endCtx); err != nil {
			logger.Warn().Err(err).Msg("end session on disconnect failed")
		}
		cancel()
	}
	close(c.done)
	<-writerDone
	logger.Info().Msg("connection closed")
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *connection, msg inboundMessage) {
	wdg := c.widget
	switch msg.Type {
	case "open":
		c.goAsync(func() {
			// Failures surface through the session's error event.
			_ = wdg.Open(ctx)
		})
	case "send":
		var payload sendPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.push("error", errorPayload{Kind: widgetservice.KindValidation, Message: "invalid send payload"})
			return
		}
		c.goAsync(func() {
			_, err := wdg.Send(ctx, payload.Text)
			// Backend failures already reached the client as an error event.
			if kind, _ := widgetservice.Classify(err); err != nil && kind != widgetservice.KindSend {
				c.pushError(err)
			}
		})
	case "end":
		c.goAsync(func() {
			if err := wdg.End(ctx); err != nil {
				c.pushError(err)
			}
		})
	case "history":
		c.goAsync(func() {
			messages, err := wdg.History(ctx)
			if err != nil {
				c.pushError(err)
				return
			}
			c.push("history", messages)
		})
	case "ping":
		c.push("pong", nil)
	default:
		c.push("error", errorPayload{Kind: widgetservice.KindValidation, Message: "unknown message type: " + msg.Type})
	}
}

func (c *connection) goAsync(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("component", "websocket").Msg("write failed")
				c.drain()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.drain()
				return
			}
		case <-c.done:
			return
		}
	}
}

// drain discards queued messages until the connection is torn down so
// producers never block on a dead socket.
func (c *connection) drain() {
	for {
		select {
		case <-c.outbox:
		case <-c.done:
			return
		}
	}
}
