package sink

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/dedup"
	"github.com/c360/retailstreams/errors"
)

const (
	clientQueueSize = 64
	writeDeadline   = 10 * time.Second
)

// HubDeps carries construction dependencies for the Hub.
type HubDeps struct {
	Config  config.SinkConfig
	Metrics *Metrics
	Logger  *slog.Logger
}

// Hub is a best-effort WebSocket fan-out of canonical events to
// dashboard subscribers. Appends never block: slow subscribers drop
// events from the tail of their queue, and the overall broadcast rate
// is capped when configured. The Hub is a mirror, not a commit point.
type Hub struct {
	listen  string
	limiter *rate.Limiter
	metrics *Metrics
	logger  *slog.Logger

	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	running bool

	shutdown chan struct{}
	wg       sync.WaitGroup
}

type hubClient struct {
	conn  *websocket.Conn
	queue chan []byte
}

// NewHub builds the hub; Start binds the listen address.
func NewHub(deps HubDeps) *Hub {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "event-hub")
	}
	var limiter *rate.Limiter
	if deps.Config.PushMaxRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(deps.Config.PushMaxRate), int(deps.Config.PushMaxRate)+1)
	}
	return &Hub{
		listen:  deps.Config.PushListen,
		limiter: limiter,
		metrics: deps.Metrics,
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Initialize validates the hub configuration.
func (h *Hub) Initialize() error {
	if h.listen == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Hub", "Initialize", "push listen address is empty")
	}
	return nil
}

// Start binds the listen address and begins accepting subscribers.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return errors.ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Hub", "Start", "context already cancelled")
	}

	listener, err := net.Listen("tcp", h.listen)
	if err != nil {
		return errors.WrapTransient(err, "Hub", "Start", "bind push listener")
	}
	h.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/events", h.handleSubscribe)
	h.server = &http.Server{Handler: mux}

	h.shutdown = make(chan struct{})
	h.running = true

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Error("push server failed", "error", err)
		}
	}()

	h.logger.Info("event hub listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, empty before Start.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Stop closes the server and all subscriber connections.
func (h *Hub) Stop(timeout time.Duration) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	close(h.shutdown)
	server := h.server
	for c := range h.clients {
		close(c.queue)
	}
	h.clients = make(map[*hubClient]struct{})
	h.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
	h.wg.Wait()
	return nil
}

// Append implements Sink: broadcast without blocking. Rate-limited
// overflow and slow subscribers both drop, persistence is elsewhere.
func (h *Hub) Append(event dedup.CanonicalEvent) error {
	h.mu.Lock()
	if !h.running || len(h.clients) == 0 {
		h.mu.Unlock()
		return nil
	}
	if h.limiter != nil && !h.limiter.Allow() {
		h.mu.Unlock()
		h.metrics.incPushDropped()
		return nil
	}
	line, err := event.Encode()
	if err != nil {
		h.mu.Unlock()
		return nil
	}
	for c := range h.clients {
		select {
		case c.queue <- line:
		default:
			h.metrics.incPushDropped()
		}
	}
	h.mu.Unlock()
	return nil
}

// Close implements Sink.
func (h *Hub) Close() error {
	return h.Stop(5 * time.Second)
}

func (h *Hub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &hubClient{
		conn:  conn,
		queue: make(chan []byte, clientQueueSize),
	}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.metrics.setClients(len(h.clients))
	h.mu.Unlock()

	h.wg.Add(2)
	go h.writePump(client)
	go h.readPump(client)
}

// writePump drains the client queue onto the connection. gorilla
// connections do not tolerate concurrent writers, so this goroutine is
// the only writer.
func (h *Hub) writePump(client *hubClient) {
	defer h.wg.Done()
	for line := range client.queue {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := client.conn.WriteMessage(websocket.TextMessage, line); err != nil {
			h.dropClient(client)
			return
		}
		h.metrics.incPushed()
	}
	_ = client.conn.Close()
}

// readPump discards inbound frames and notices disconnects.
func (h *Hub) readPump(client *hubClient) {
	defer h.wg.Done()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.dropClient(client)
			return
		}
	}
}

func (h *Hub) dropClient(client *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.queue)
		h.metrics.setClients(len(h.clients))
	}
	h.mu.Unlock()
	_ = client.conn.Close()
}
