package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cantrace/backend/internal/logger"
	"github.com/cantrace/backend/internal/parser"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// WebSocket message types
const (
	// Server -> Client
	MsgTypeText  = "text"
	MsgTypePong  = "pong"
	MsgTypeError = "error"

	// Client -> Server
	MsgTypePing = "ping"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSMessage is the envelope of every server message.
type WSMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// WSErrorPayload describes a rejected client message.
type WSErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type inboundMessage struct {
	Type string `json:"type"`
}

// WebSocketHandler pushes every filter result of a session to the client
type WebSocketHandler struct {
	sessions SessionManager
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewWebSocketHandler creates a new WebSocket feed handler
func NewWebSocketHandler(sessions SessionManager, log *logger.Logger) *WebSocketHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		log: log.With(func(c zerolog.Context) zerolog.Context {
			return c.Str("component", "ws_feed")
		}),
	}
}

// HandleFeed upgrades the connection and streams results. The current
// result is sent first; when the client falls behind only the newest
// pending result is kept.
func (wsh *WebSocketHandler) HandleFeed(c echo.Context) error {
	id := c.Param("id")
	if _, ok := wsh.sessions.GetSession(id); !ok {
		return NewNotFoundError("session", id)
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the response
		wsh.log.Warn().Err(err).Str("session", id).Msg("upgrade failed")
		return nil
	}
	defer ws.Close()

	log := wsh.log.With(func(c zerolog.Context) zerolog.Context {
		return c.Str("session", id)
	})
	log.Debug().Msg("client connected")
	defer func() { log.Debug().Msg("client disconnected") }()

	updates := make(chan parser.Result, 1)
	unsubscribe, err := wsh.sessions.Subscribe(id, func(r parser.Result) {
		offerLatest(updates, r)
	})
	if err != nil {
		wsh.sendError(ws, "session closed", "NOT_FOUND")
		return nil
	}
	defer unsubscribe()

	if current, err := wsh.sessions.Result(id); err == nil {
		if err := wsh.send(ws, MsgTypeText, current); err != nil {
			return nil
		}
	}

	inbound := make(chan inboundMessage, 8)
	done := make(chan struct{})
	go wsh.readPump(ws, id, inbound, done)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case r := <-updates:
			err = wsh.send(ws, MsgTypeText, r)
		case msg := <-inbound:
			switch msg.Type {
			case MsgTypePing:
				err = wsh.send(ws, MsgTypePong, nil)
			default:
				err = wsh.sendError(ws, "unknown message type: "+msg.Type, "INVALID_TYPE")
			}
		case <-ticker.C:
			err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
		case <-done:
			return nil
		}
		if err != nil {
			log.Debug().Err(err).Msg("write failed")
			return nil
		}
	}
}

// readPump decodes client messages until the connection fails. Any client
// message keeps the session alive.
func (wsh *WebSocketHandler) readPump(ws *websocket.Conn, id string, inbound chan<- inboundMessage, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsh.log.Debug().Err(err).Str("session", id).Msg("connection error")
			}
			return
		}
		wsh.sessions.TouchSession(id)

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			msg.Type = "invalid"
		}
		select {
		case inbound <- msg:
		default:
		}
	}
}

// offerLatest queues r, replacing any result the writer has not sent yet.
func offerLatest(ch chan parser.Result, r parser.Result) {
	for {
		select {
		case ch <- r:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, msgType string, payload interface{}) error {
	ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteJSON(WSMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (wsh *WebSocketHandler) sendError(ws *websocket.Conn, message, code string) error {
	return wsh.send(ws, MsgTypeError, WSErrorPayload{Message: message, Code: code})
}
