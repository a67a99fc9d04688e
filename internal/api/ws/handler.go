package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termcore/internal/providers/terminal"
)

const (
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
	eventDepth   = 256
	outboxDepth  = 16
	maxFrameSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the HTTP middleware
	},
}

// ClientFrame is a message from the browser.
type ClientFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
}

// ServerFrame is a message to the browser.
type ServerFrame struct {
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Handler manages WebSocket connections
type Handler struct {
	manager *terminal.Manager
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *terminal.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, metrics: metrics, logger: logger}
}

// HandleConnection upgrades the request and streams the session named by
// the :id parameter until either side closes.
func (h *Handler) HandleConnection(c *gin.Context) {
	sid := c.Param("id")
	events, unsubscribe, err := h.manager.Subscribe(c.Request.Context(), sid, eventDepth)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, terminal.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	connID := uuid.NewString()
	logger := h.logger.With(zap.String("conn", connID), zap.String("session", sid))
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()
	logger.Info("WebSocket connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbox := make(chan ServerFrame, outboxDepth)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, events, outbox, logger)
		// Unblocks readLoop once nothing can be written.
		conn.Close()
	}()

	outbox <- ServerFrame{Type: "system", Message: "connected", Data: connID}
	h.readLoop(ctx, conn, sid, outbox, logger)

	cancel()
	<-writerDone
	logger.Info("WebSocket disconnected")
}

// readLoop applies client frames to the session until the connection fails.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sid string, outbox chan<- ServerFrame, logger *zap.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		var frame ClientFrame
		if err := sonic.Unmarshal(data, &frame); err != nil {
			h.reply(ctx, outbox, ServerFrame{Type: "error", Message: "malformed frame"})
			continue
		}
		h.metrics.RecordWSMessage("in", frame.Type)

		if err := h.apply(ctx, sid, frame, outbox); err != nil {
			h.reply(ctx, outbox, ServerFrame{Type: "error", Message: err.Error()})
			if errors.Is(err, terminal.ErrSessionNotFound) || errors.Is(err, terminal.ErrStopped) {
				return
			}
		}
	}
}

func (h *Handler) apply(ctx context.Context, sid string, frame ClientFrame, outbox chan<- ServerFrame) error {
	switch frame.Type {
	case "line":
		return h.manager.Submit(ctx, sid, frame.Data)
	case "input":
		return h.manager.Write(ctx, sid, []byte(frame.Data))
	case "eof":
		return h.manager.CloseInput(ctx, sid)
	case "interrupt":
		_, err := h.manager.Interrupt(ctx, sid)
		return err
	case "detach":
		_, err := h.manager.Detach(ctx, sid)
		return err
	case "resize":
		return h.manager.Resize(ctx, sid, frame.Rows, frame.Cols)
	case "ping":
		h.reply(ctx, outbox, ServerFrame{Type: "pong"})
		return nil
	default:
		return errors.New("unknown message type")
	}
}

func (h *Handler) reply(ctx context.Context, outbox chan<- ServerFrame, frame ServerFrame) {
	select {
	case outbox <- frame:
	case <-ctx.Done():
	}
}

// writeLoop is the only writer on conn.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan terminal.Event, outbox <-chan ServerFrame, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var frame ServerFrame
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), time.Now().Add(writeWait))
				return
			}
			frame = ServerFrame{Type: string(ev.Kind), Data: ev.Text}
		case frame = <-outbox:
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			continue
		}

		frame.Timestamp = time.Now().Unix()
		data, err := sonic.Marshal(frame)
		if err != nil {
			logger.Error("encode frame", zap.Error(err))
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("WebSocket write error", zap.Error(err))
			return
		}
		h.metrics.RecordWSMessage("out", frame.Type)
	}
}
