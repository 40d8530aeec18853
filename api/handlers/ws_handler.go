package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/yt-relay/internal/app"
	"github.com/yourusername/yt-relay/internal/domain"
)

// maxMessageSize limits inbound request frames
const maxMessageSize = 64 * 1024

// alreadyDownloadingMessage is the info text for duplicate submissions
const alreadyDownloadingMessage = "Already downloading"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Local clients and browser extensions connect from any origin
	},
}

// ConnectionHandler serves observer connections. Each connection gets the
// current downloads_list snapshot, then every broadcast event, and may submit
// download requests.
type ConnectionHandler struct {
	bridge      *app.ProgressBridge
	broadcaster *app.Broadcaster
	dispatcher  *app.WorkerDispatcher
	config      domain.BroadcastConfig
	logger      *zap.Logger
}

// NewConnectionHandler creates a new websocket connection handler
func NewConnectionHandler(
	bridge *app.ProgressBridge,
	broadcaster *app.Broadcaster,
	dispatcher *app.WorkerDispatcher,
	config domain.BroadcastConfig,
	logger *zap.Logger,
) *ConnectionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SendBuffer < 1 {
		config.SendBuffer = 1
	}
	return &ConnectionHandler{
		bridge:      bridge,
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
		config:      config,
		logger:      logger,
	}
}

// wsClient is one observer connection. send is never closed; done signals
// that the client is gone and the write pump should shut the socket.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	synced     chan struct{}
	syncedOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, buffer int) *wsClient {
	return &wsClient{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, buffer),
		synced: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

// Enqueue queues msg for the write pump without blocking. The first message
// a client ever takes is its downloads_list snapshot.
func (c *wsClient) Enqueue(msg []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: connection %s closed", domain.ErrDeliveryFailure, c.id)
	default:
	}

	select {
	case c.send <- msg:
		c.syncedOnce.Do(func() { close(c.synced) })
		return nil
	default:
		return fmt.Errorf("%w: connection %s send buffer full", domain.ErrDeliveryFailure, c.id)
	}
}

// Close is safe to call more than once
func (c *wsClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Handle handles GET / and GET /ws
func (h *ConnectionHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket_upgrade_failed",
			zap.String("remote_addr", c.Request.RemoteAddr),
			zap.Error(err))
		return
	}

	client := newWSClient(conn, h.config.SendBuffer)
	log := h.logger.With(
		zap.String("observer", client.id),
		zap.String("remote_addr", c.Request.RemoteAddr))

	if err := h.bridge.Subscribe(client); err != nil {
		log.Error("observer_subscribe_failed", zap.Error(err))
		conn.Close()
		return
	}
	log.Info("observer_connected")

	go h.writePump(client, log)
	h.readPump(client, log)

	h.broadcaster.Unregister(client)
	client.Close()
	log.Info("observer_disconnected")
}

// readPump handles inbound requests until the connection fails
func (h *ConnectionHandler) readPump(client *wsClient, log *zap.Logger) {
	// Requests are only served once the snapshot is queued ahead of any reply
	select {
	case <-client.synced:
	case <-client.done:
		return
	}

	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	if wait := h.pongWait(); wait > 0 {
		conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("observer_read_failed", zap.Error(err))
			}
			return
		}
		h.handleMessage(client, message, log)
	}
}

// handleMessage parses one request and dispatches it. Problems with the
// request itself are answered to this client only.
func (h *ConnectionHandler) handleMessage(client *wsClient, message []byte, log *zap.Logger) {
	req := domain.ParseRequest(message)
	if req.Kind == domain.RequestMalformed {
		log.Info("malformed_request", zap.String("reason", req.Reason))
		h.reply(client, domain.NewErrorEvent("", req.Reason, time.Time{}), log)
		return
	}

	result, err := h.dispatcher.Submit(req.ResourceID)
	switch {
	case errors.Is(err, domain.ErrMalformedRequest):
		log.Info("malformed_request", zap.String("resource_id", req.ResourceID), zap.Error(err))
		h.reply(client, domain.NewErrorEvent("", err.Error(), time.Time{}), log)
	case err != nil:
		// The job has already moved to error and observers were told
		log.Error("submit_failed", zap.String("key", result.Key), zap.Error(err))
	case result.Outcome == app.SubmitAlreadyInFlight:
		h.reply(client, domain.NewInfoEvent(result.Key, alreadyDownloadingMessage), log)
	default:
		log.Info("download_requested",
			zap.String("key", result.Key),
			zap.String("kind", req.Kind.String()))
	}
}

func (h *ConnectionHandler) reply(client *wsClient, event domain.Event, log *zap.Logger) {
	data, err := event.Encode()
	if err != nil {
		log.Error("reply_encode_failed", zap.Error(err))
		return
	}
	if err := client.Enqueue(data); err != nil {
		log.Warn("reply_dropped", zap.Error(err))
		client.Close()
	}
}

// writePump owns all writes to the socket
func (h *ConnectionHandler) writePump(client *wsClient, log *zap.Logger) {
	conn := client.conn
	defer conn.Close()

	var ping <-chan time.Time
	if h.config.PingInterval > 0 {
		ticker := time.NewTicker(h.config.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case msg := <-client.send:
			h.setWriteDeadline(conn)
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("observer_write_failed", zap.Error(err))
				client.Close()
				return
			}

		case <-ping:
			h.setWriteDeadline(conn)
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}

		case <-client.done:
			deadline := time.Now().Add(time.Second)
			if h.config.WriteTimeout > 0 {
				deadline = time.Now().Add(h.config.WriteTimeout)
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (h *ConnectionHandler) setWriteDeadline(conn *websocket.Conn) {
	if h.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	}
}

// pongWait is how long a silent peer is kept; zero disables the deadline
func (h *ConnectionHandler) pongWait() time.Duration {
	if h.config.PingInterval <= 0 {
		return 0
	}
	return 2 * h.config.PingInterval
}
