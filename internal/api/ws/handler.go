package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Chino66/Command-Tool-Develop/internal/domain/session"
	"github.com/Chino66/Command-Tool-Develop/internal/infrastructure/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler manages WebSocket connections to sessions.
type Handler struct {
	manager *session.Manager
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler. metrics may be nil.
func NewHandler(manager *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager: manager,
		metrics: metrics,
		logger:  logger.Named("ws"),
	}
}

// Register mounts the stream route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/sessions/:id/ws", h.HandleConnection)
}

// HandleConnection upgrades the request and streams the session until
// either side goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	entry, err := h.manager.Get(c.Param("id"))
	if err != nil {
		data, _ := sonic.Marshal(map[string]string{"error": err.Error(), "code": "not_found"})
		c.Data(http.StatusNotFound, "application/json; charset=utf-8", data)
		c.Abort()
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		handler: h,
		entry:   entry,
		conn:    conn,
		send:    make(chan Message, sendBuffer),
		done:    make(chan struct{}),
		log:     h.logger.With(zap.String("session_id", entry.ID())),
	}

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}
	cl.log.Debug("WebSocket connected", zap.String("remote", c.Request.RemoteAddr))

	unwatch := entry.Watch(cl.onEvent)
	defer unwatch()

	cl.enqueue(Message{Type: TypeConnected, SessionID: entry.ID(), Timestamp: time.Now().UnixMilli()})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cl.writeLoop()
	}()

	cl.readLoop(c.Request.Context())
	cl.shutdown()
	wg.Wait()
	conn.Close()
	cl.log.Debug("WebSocket disconnected")
}

type client struct {
	handler *Handler
	entry   *session.Entry
	conn    *websocket.Conn
	send    chan Message
	done    chan struct{}
	once    sync.Once
	log     *zap.Logger
}

func (cl *client) shutdown() {
	cl.once.Do(func() { close(cl.done) })
}

// onEvent runs on the session's goroutines and must not block. Events are
// dropped when the client cannot keep up.
func (cl *client) onEvent(ev session.Event) {
	if !cl.enqueue(fromEvent(ev)) {
		cl.record("out", "dropped")
	}
}

func (cl *client) enqueue(m Message) bool {
	select {
	case <-cl.done:
		return false
	default:
	}
	select {
	case cl.send <- m:
		return true
	case <-cl.done:
		return false
	default:
		return false
	}
}

func (cl *client) record(direction, msgType string) {
	if cl.handler.metrics != nil {
		cl.handler.metrics.RecordWSMessage(direction, msgType)
	}
}

func (cl *client) readLoop(ctx context.Context) {
	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			cl.record("in", "invalid")
			cl.enqueue(errorMessage(cl.entry.ID(), "invalid message: "+err.Error()))
			continue
		}
		cl.record("in", msg.Type)
		cl.handle(ctx, msg)
	}
}

func (cl *client) handle(ctx context.Context, msg ClientMessage) {
	id := cl.entry.ID()

	switch msg.Type {
	case TypePing:
		cl.enqueue(Message{Type: TypePong, SessionID: id, Timestamp: time.Now().UnixMilli()})

	case TypeRun:
		if msg.Command == "" {
			cl.enqueue(errorMessage(id, "command is required"))
			return
		}
		if err := cl.entry.Run(msg.Command); err != nil {
			cl.enqueue(errorMessage(id, err.Error()))
			return
		}
		cl.accepted(msg.Command)

	case TypeExec:
		if msg.Command == "" {
			cl.enqueue(errorMessage(id, "command is required"))
			return
		}
		if cl.entry.Session().Busy() {
			cl.enqueue(errorMessage(id, "asynchronous command already running"))
			return
		}
		cl.accepted(msg.Command)
		// The result reaches the client as a result event; only failures
		// are reported here.
		go func() {
			if _, err := cl.entry.Exec(ctx, msg.Command, msg.timeout()); err != nil {
				cl.enqueue(errorMessage(id, err.Error()))
			}
		}()

	case TypeDebug:
		cl.entry.Session().SetDebugMode(msg.Enabled)
		cl.accepted("")

	default:
		cl.enqueue(errorMessage(id, "unknown message type: "+msg.Type))
	}
}

func (cl *client) accepted(command string) {
	cl.enqueue(Message{
		Type:      TypeAccepted,
		SessionID: cl.entry.ID(),
		Command:   command,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (cl *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-cl.send:
			if err := cl.write(msg); err != nil {
				cl.log.Debug("WebSocket write failed", zap.Error(err))
				cl.shutdown()
				_ = cl.conn.Close()
				return
			}
			if msg.Type == string(session.EventClosed) {
				_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = cl.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				cl.shutdown()
				_ = cl.conn.Close()
				return
			}

		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cl.shutdown()
				_ = cl.conn.Close()
				return
			}

		case <-cl.done:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = cl.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (cl *client) write(msg Message) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	cl.record("out", msg.Type)
	return nil
}
