package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/iyunix/internist-hub/internal/ratelimit"
)

// Config tunes the hub. Zero values are replaced by DefaultConfig values.
type Config struct {
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	TypingTimeout     time.Duration
	SendBufferSize    int
	MaxMessageBytes   int64
	FrameRateLimit    float64
	FrameRateBurst    int
	WriteWait         time.Duration
	VerifyTimeout     time.Duration
	AssistantTimeout  time.Duration
	AllowedOrigins    []string
	Now               func() time.Time
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		ClientTimeout:     60 * time.Second,
		TypingTimeout:     10 * time.Second,
		SendBufferSize:    256,
		MaxMessageBytes:   64 * 1024,
		FrameRateLimit:    20,
		FrameRateBurst:    40,
		WriteWait:         10 * time.Second,
		VerifyTimeout:     10 * time.Second,
		AssistantTimeout:  2 * time.Minute,
		Now:               time.Now,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = d.ClientTimeout
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = d.TypingTimeout
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.FrameRateLimit <= 0 {
		c.FrameRateLimit = d.FrameRateLimit
	}
	if c.FrameRateBurst <= 0 {
		c.FrameRateBurst = d.FrameRateBurst
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = d.VerifyTimeout
	}
	if c.AssistantTimeout <= 0 {
		c.AssistantTimeout = d.AssistantTimeout
	}
	if c.Now == nil {
		c.Now = d.Now
	}
}

func (c Config) Validate() error {
	if c.ClientTimeout < c.HeartbeatInterval {
		return fmt.Errorf("client timeout %s is shorter than heartbeat interval %s", c.ClientTimeout, c.HeartbeatInterval)
	}
	return nil
}

// Dependencies are the hub's collaborators. Verifier and Gateway are
// required; a nil Authorizer admits everyone and a nil Assistant disables
// assistant replies.
type Dependencies struct {
	Verifier         TokenVerifier
	Gateway          Gateway
	Authorizer       Authorizer
	Assistant        Assistant
	HandshakeLimiter *ratelimit.MemoryRateLimiter
	Logger           Logger
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int            `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
	Uptime      string         `json:"uptime"`
}

type Hub struct {
	cfg        Config
	verifier   TokenVerifier
	gateway    Gateway
	authorizer Authorizer
	assistant  Assistant
	limiter    *ratelimit.MemoryRateLimiter
	logger     Logger

	registry  *Registry
	rooms     *RoomTracker
	typing    *TypingCoordinator
	delivery  *DeliveryTracker
	heartbeat *HeartbeatMonitor
	upgrader  websocket.Upgrader

	ctx        context.Context
	cancel     context.CancelFunc
	closing    atomic.Bool
	replying   sync.Map
	background sync.WaitGroup
	startedAt  time.Time
}

func NewHub(cfg Config, deps Dependencies) (*Hub, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("persistence gateway is required")
	}
	if deps.Authorizer == nil {
		deps.Authorizer = allowAll{}
	}
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}

	registry := NewRegistry(deps.Logger, cfg.Now)
	typing := NewTypingCoordinator(deps.Gateway, registry, cfg.TypingTimeout, deps.Logger, cfg.Now)

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:        cfg,
		verifier:   deps.Verifier,
		gateway:    deps.Gateway,
		authorizer: deps.Authorizer,
		assistant:  deps.Assistant,
		limiter:    deps.HandshakeLimiter,
		logger:     deps.Logger,
		registry:   registry,
		rooms:      NewRoomTracker(registry, typing, deps.Logger),
		typing:     typing,
		delivery:   NewDeliveryTracker(deps.Gateway, registry, deps.Authorizer, deps.Logger, cfg.Now),
		heartbeat:  NewHeartbeatMonitor(registry, typing, cfg.HeartbeatInterval, cfg.ClientTimeout, deps.Logger, cfg.Now),
		ctx:        ctx,
		cancel:     cancel,
		startedAt:  cfg.Now(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

func (h *Hub) Registry() *Registry { return h.registry }

// Run drives the heartbeat until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("Hub heartbeat started", "interval", h.cfg.HeartbeatInterval.String(), "timeout", h.cfg.ClientTimeout.String())
	h.heartbeat.Run(ctx)
	return nil
}

// Shutdown refuses new connections, closes every live connection through
// the eviction path and waits for background work.
func (h *Hub) Shutdown(ctx context.Context) error {
	if !h.closing.CompareAndSwap(false, true) {
		return nil
	}
	h.logger.Info("Hub shutting down", "connections", h.registry.Count())

	h.registry.EvictAll(ctx, ReasonShutdown)
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.background.Wait()
		h.typing.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.registry.Count(),
		Rooms:       h.registry.Rooms(),
		Uptime:      h.cfg.Now().Sub(h.startedAt).Truncate(time.Second).String(),
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
// The credential is the token query parameter; a missing or invalid token
// closes the socket with 1008.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if h.closing.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ip := ratelimit.GetClientIP(r)
	if h.limiter != nil {
		if banned, retryAfter := h.limiter.IsBanned(ip); banned {
			h.logger.Warn("Handshake from banned address", "ip", ip)
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			http.Error(w, "too many failed handshakes", http.StatusTooManyRequests)
			return
		}
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "ip", ip, "error", err)
		return
	}

	h.serveConn(ws, ip, r.URL.Query().Get("token"))
}

func (h *Hub) serveConn(ws *websocket.Conn, ip, token string) {
	ws.SetReadLimit(h.cfg.MaxMessageBytes)

	userID, err := h.authenticate(token)
	if err != nil {
		h.logger.Warn("Handshake rejected", "ip", ip, "error", err)
		if h.limiter != nil {
			h.limiter.RecordFailure(ip)
		}
		deadline := time.Now().Add(h.cfg.WriteWait)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(ReasonUnauthorized.Code, ReasonUnauthorized.Text), deadline)
		_ = ws.Close()
		return
	}
	if h.limiter != nil {
		h.limiter.RecordSuccess(ip)
	}

	limiter := rate.NewLimiter(rate.Limit(h.cfg.FrameRateLimit), h.cfg.FrameRateBurst)
	conn := newConnection(userID, ip, ws, h.cfg.SendBufferSize, limiter)

	h.registry.Admit(h.ctx, conn)
	go conn.writePump(h.cfg.WriteWait, h.logger)

	// Shutdown may have snapshotted the registry between upgrade and Admit.
	if h.closing.Load() {
		h.registry.Evict(context.Background(), conn, ReasonShutdown)
		return
	}

	h.logger.Info("Connection established", "user_id", userID, "connection_id", conn.id, "ip", ip)
	_ = h.registry.deliver(conn, mustFrame(TypeConnectionEstablished, ConnectionEstablishedPayload{UserID: userID, ConnectionID: conn.id}))

	h.readLoop(conn, ws)
}

func (h *Hub) authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", NewAuthError("handshake", errors.New("missing token"))
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.VerifyTimeout)
	defer cancel()

	userID, err := h.verifier.Verify(ctx, token)
	if err != nil {
		return "", NewAuthError("handshake", err)
	}
	if strings.TrimSpace(userID) == "" {
		return "", NewAuthError("handshake", errors.New("empty user id"))
	}
	return userID, nil
}

// readLoop processes frames in arrival order. Every frame, and every
// protocol-level pong, counts as activity.
func (h *Hub) readLoop(conn *Connection, ws *websocket.Conn) {
	ws.SetPongHandler(func(string) error {
		h.registry.Touch(conn)
		return nil
	})

	reason := ReasonClientClosed
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			reason = h.readFailureReason(conn, err)
			break
		}
		h.registry.Touch(conn)
		h.dispatch(h.ctx, conn, data)
	}

	h.registry.Evict(context.Background(), conn, reason)
}

func (h *Hub) readFailureReason(conn *Connection, err error) CloseReason {
	if conn.State() >= StateClosing {
		return conn.CloseReason()
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		h.logger.Warn("Frame exceeded size limit", "user_id", conn.userID, "limit", h.cfg.MaxMessageBytes)
		return CloseReason{Code: websocket.CloseMessageTooBig, Text: "message too big"}
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		h.logger.Debug("Client closed connection", "user_id", conn.userID)
		return ReasonClientClosed
	}
	h.logger.Warn("Read failed", "user_id", conn.userID, "connection_id", conn.id, "error", err)
	return ReasonTransport
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	h.logger.Warn("Rejected websocket origin", "origin", origin)
	return false
}
