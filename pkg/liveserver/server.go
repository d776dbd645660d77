package liveserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"omc/internal/core"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	streamActiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omc_stream_active_clients",
		Help: "Current number of active WebSocket clients",
	})

	streamRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omc_stream_rejected_total",
		Help: "Total number of rejected WebSocket connection attempts",
	}, []string{"reason"})

	streamMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omc_stream_messages_sent_total",
		Help: "Total number of frames sent to WebSocket clients",
	})

	streamMessagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omc_stream_messages_dropped_total",
		Help: "Total number of frames dropped on slow WebSocket clients",
	})
)

func init() {
	prometheus.MustRegister(streamActiveClients)
	prometheus.MustRegister(streamRejectedTotal)
	prometheus.MustRegister(streamMessagesSent)
	prometheus.MustRegister(streamMessagesDropped)
}

// Options bound the stream server's intake.
type Options struct {
	AllowedOrigins []string
	MaxClients     int
	RateLimitPerIP float64 // connection attempts per second, 0 disables
	RateBurstPerIP int
}

// Server terminates WebSocket connections for the order event stream.
type Server struct {
	hub            *Hub
	srv            *http.Server
	logger         core.ILogger
	upgrader       websocket.Upgrader
	allowedOrigins []string
	mu             sync.Mutex

	// Connection limits
	maxConnections int
	connSemaphore  chan struct{}

	// Per-IP rate limiting
	rateLimitEnabled bool
	ipLimiters       sync.Map // map[string]*rate.Limiter
	rateLimit        rate.Limit
	rateBurst        int

	// Production mode rejects wildcard origins
	production bool
}

// NewServer creates a stream server in front of the hub.
func NewServer(hub *Hub, logger core.ILogger, opts Options) *Server {
	if opts.MaxClients <= 0 {
		opts.MaxClients = 1000
	}

	s := &Server{
		hub:              hub,
		logger:           logger,
		allowedOrigins:   opts.AllowedOrigins,
		maxConnections:   opts.MaxClients,
		connSemaphore:    make(chan struct{}, opts.MaxClients),
		rateLimitEnabled: opts.RateLimitPerIP > 0,
		rateLimit:        rate.Limit(opts.RateLimitPerIP),
		rateBurst:        opts.RateBurstPerIP,
	}
	if s.rateBurst <= 0 {
		s.rateBurst = 1
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// SetProduction sets the production mode
func (s *Server) SetProduction(prod bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.production = prod
}

// checkOrigin validates the WebSocket connection origin against the whitelist
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Reject connections without origin header
	if origin == "" {
		if s.logger != nil {
			s.logger.Warn("Rejected WebSocket connection with missing Origin header",
				"remote_addr", r.RemoteAddr)
		}
		return false
	}

	parsedOrigin, err := url.Parse(origin)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("Rejected WebSocket connection with invalid Origin",
				"origin", origin, "error", err)
		}
		return false
	}
	originStr := parsedOrigin.Scheme + "://" + parsedOrigin.Host

	for _, allowed := range s.allowedOrigins {
		// Wildcard is for development only
		if allowed == "*" {
			if s.production {
				if s.logger != nil {
					s.logger.Warn("Rejected wildcard origin in production mode",
						"origin", origin, "remote_addr", r.RemoteAddr)
				}
				streamRejectedTotal.WithLabelValues("invalid_origin").Inc()
				return false
			}
			if s.logger != nil {
				s.logger.Warn("WebSocket connection allowed via wildcard origin (insecure for production)",
					"origin", origin, "remote_addr", r.RemoteAddr)
			}
			return true
		}

		if originStr == allowed {
			return true
		}
	}

	if s.logger != nil {
		s.logger.Warn("Rejected WebSocket connection from unauthorized origin",
			"origin", origin, "remote_addr", r.RemoteAddr, "allowed_origins", s.allowedOrigins)
	}
	streamRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

// Handler returns the stream endpoints, /ws and /health, for mounting on
// any listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start starts the HTTP server and blocks until ctx is done or the
// listener fails.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()

	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("Starting stream server", "addr", addr)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}

	if s.logger != nil {
		s.logger.Info("Stopping stream server")
	}

	return s.srv.Shutdown(ctx)
}

// handleWebSocket admits a connection: IP rate limit, then the investor_id
// parameter, then the global connection cap, then the upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.rateLimitEnabled {
		ip := s.getRemoteIP(r)
		if !s.getIPLimiter(ip).Allow() {
			if s.logger != nil {
				s.logger.Warn("IP rate limit exceeded", "ip", ip)
			}
			streamRejectedTotal.WithLabelValues("rate_limit").Inc()
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
	}

	investorID, err := strconv.ParseInt(r.URL.Query().Get("investor_id"), 10, 64)
	if err != nil || investorID <= 0 {
		streamRejectedTotal.WithLabelValues("bad_investor_id").Inc()
		http.Error(w, "Query parameter investor_id must be a positive integer", http.StatusBadRequest)
		return
	}

	select {
	case s.connSemaphore <- struct{}{}:
		streamActiveClients.Inc()
		defer func() {
			<-s.connSemaphore
			streamActiveClients.Dec()
		}()
	default:
		if s.logger != nil {
			s.logger.Warn("Max stream clients reached")
		}
		streamRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("WebSocket upgrade failed", "error", err)
		}
		return
	}

	client := NewClient(uuid.New().String(), investorID)
	s.hub.Register(client)
	client.Send(NewWelcomeMessage(investorID))

	if s.logger != nil {
		s.logger.Info("Stream client connected",
			"client_id", client.id, "investor_id", investorID, "remote_addr", r.RemoteAddr)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()

	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()

	wg.Wait()

	s.hub.Unregister(client)
	conn.Close()

	if s.logger != nil {
		s.logger.Info("Stream client disconnected", "client_id", client.id)
	}
}

// writePump sends messages from hub to WebSocket connection
func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			if !ok {
				// Channel closed
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteJSON(msg); err != nil {
				if s.logger != nil {
					s.logger.Warn("Write error", "client_id", client.id, "error", err)
				}
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from WebSocket connection (handles pong responses)
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		s.hub.Unregister(client)
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		// Clients only listen; reads exist to surface pongs and closes.
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				if s.logger != nil {
					s.logger.Warn("Read error", "client_id", client.id, "error", err)
				}
			}
			break
		}
	}
}

// handleHealth handles health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"time":    time.Now().Unix(),
	}

	json.NewEncoder(w).Encode(response)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// getRemoteIP extracts the client IP address
func (s *Server) getRemoteIP(r *http.Request) string {
	// RemoteAddr over X-Forwarded-For: the latter spoofs trivially
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// getIPLimiter returns or creates a rate limiter for the given IP
func (s *Server) getIPLimiter(ip string) *rate.Limiter {
	if val, ok := s.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}

	// LoadOrStore handles racing first requests from one IP
	actual, _ := s.ipLimiters.LoadOrStore(ip, rate.NewLimiter(s.rateLimit, s.rateBurst))
	return actual.(*rate.Limiter)
}
