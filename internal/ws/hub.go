package ws

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/termhub/termhub/internal/logging"
	"github.com/termhub/termhub/internal/monitoring"
	"github.com/termhub/termhub/internal/shared/id"
	"github.com/termhub/termhub/internal/tabs"
	"github.com/termhub/termhub/internal/term"
	"go.uber.org/zap"
)

// sendBuffer is the per-client outbound queue depth. A client that
// falls this far behind is disconnected rather than allowed to block
// every other viewer.
const sendBuffer = 1024

// Hub is the connection multiplexer: it tracks live connections, the
// set of terminals each is attached to, and routes events. Output for
// a terminal goes only to attached connections; lifecycle events go to
// every connection so all clients keep a consistent terminal list.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	manager *term.Manager
	tabs    *tabs.Registry
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHub creates the hub and wires itself into the manager's output
// and exit delivery.
func NewHub(manager *term.Manager, registry *tabs.Registry, metrics *monitoring.Metrics, logger *logging.Logger) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		manager: manager,
		tabs:    registry,
		metrics: metrics,
		logger:  logger.Component("ws"),
	}
	manager.SetHandlers(h.handleOutput, h.handleExit)
	return h
}

// Client is one live connection's hub-side state.
type Client struct {
	id   string
	hub  *Hub
	send chan []byte

	mu       sync.Mutex
	closed   bool
	attached map[id.TerminalID]struct{}
}

// newClient builds hub-side state for a connection. The transport
// layer drains the send channel.
func (h *Hub) newClient() *Client {
	return &Client{
		id:       uuid.NewString(),
		hub:      h,
		send:     make(chan []byte, sendBuffer),
		attached: make(map[id.TerminalID]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.WSConnections.Set(float64(count))
	h.logger.Info("client connected",
		zap.String("client_id", c.id), zap.Int("clients", count))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	// Closing under the client mutex serializes against enqueue, so a
	// broadcast that snapshotted the client list before removal can
	// never send on the closed channel.
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()

	h.metrics.WSConnections.Set(float64(count))
	h.logger.Info("client disconnected",
		zap.String("client_id", c.id), zap.Int("clients", count))
}

// attach records connection membership for a terminal.
func (c *Client) attach(tid id.TerminalID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached[tid] = struct{}{}
}

func (c *Client) isAttached(tid id.TerminalID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.attached[tid]
	return ok
}

// enqueue queues an encoded envelope for the client; a full queue
// drops the client. Sends to a dropped client are discarded.
func (h *Hub) enqueue(c *Client, raw []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- raw:
		c.mu.Unlock()
		return
	default:
	}
	c.mu.Unlock()

	h.logger.Warn("client send queue full, dropping client",
		zap.String("client_id", c.id))
	h.unregister(c)
}

func encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

// sendTo delivers one message to one client.
func (h *Hub) sendTo(c *Client, msgType string, payload any) {
	raw, err := encode(msgType, payload)
	if err != nil {
		h.logger.Error("failed to encode message",
			zap.String("type", msgType), zap.Error(err))
		return
	}
	h.metrics.WSMessages.WithLabelValues(msgType, "out").Inc()
	h.enqueue(c, raw)
}

// broadcast delivers a lifecycle event to every connection.
func (h *Hub) broadcast(msgType string, payload any) {
	raw, err := encode(msgType, payload)
	if err != nil {
		h.logger.Error("failed to encode broadcast",
			zap.String("type", msgType), zap.Error(err))
		return
	}
	h.metrics.WSMessages.WithLabelValues(msgType, "out").Inc()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.enqueue(c, raw)
	}
}

// broadcastToTerminal delivers output only to connections attached to
// the originating terminal.
func (h *Hub) broadcastToTerminal(tid id.TerminalID, msgType string, payload any) {
	raw, err := encode(msgType, payload)
	if err != nil {
		h.logger.Error("failed to encode terminal broadcast",
			zap.String("type", msgType), zap.Error(err))
		return
	}
	h.metrics.WSMessages.WithLabelValues(msgType, "out").Inc()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.isAttached(tid) {
			h.enqueue(c, raw)
		}
	}
}

// handleOutput forwards terminal output, in production order, to
// attached connections.
func (h *Hub) handleOutput(tid id.TerminalID, data []byte) {
	h.metrics.OutputBytes.Add(float64(len(data)))
	h.broadcastToTerminal(tid, MsgTerminalOutput, OutputPayload{
		TerminalID: tid,
		Data:       base64.StdEncoding.EncodeToString(data),
	})
}

// handleExit announces a terminal's process exit to every connection.
func (h *Hub) handleExit(tid id.TerminalID, exitCode int) {
	h.metrics.TerminalExits.Inc()
	h.metrics.TerminalsActive.Dec()
	h.broadcast(MsgTerminalExit, ExitPayload{TerminalID: tid, ExitCode: exitCode})
}
