// internal/simulator/server.go

// Package simulator is a local stand-in for the market-data socket. It
// accepts control frames, tracks subscriptions per client and pushes
// binary frames built with packet.Encode.
package simulator

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/internal/packet"
	"github.com/YaganovValera/market-feed/internal/topic"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

// Config for the simulator server.
type Config struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
	// LoginID and Token, when set, must match the query of every upgrade.
	LoginID string `mapstructure:"login_id"`
	Token   string `mapstructure:"token"`
	// TickInterval drives Generator output in Run. Zero disables ticking.
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = "/"
	}
}

type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	mu   sync.Mutex
	subs map[string]topic.Frame // keyed by normalised subscribe frame
}

func (c *client) write(typ int, b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(typ, b)
}

func (c *client) subscribed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[key]
	return ok
}

func (c *client) frames() []topic.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]topic.Frame, 0, len(c.subs))
	for _, f := range c.subs {
		out = append(out, f)
	}
	return out
}

// Server is an http.Handler that upgrades to the simulated feed.
type Server struct {
	cfg      Config
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*client]struct{}
	received []topic.Frame

	connects   atomic.Int64
	rejected   atomic.Int64
	heartbeats atomic.Int64
}

// New builds a Server.
func New(cfg Config, log *logger.Logger) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg:      cfg,
		log:      log.Named("simulator"),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*client]struct{}),
	}
}

// ServeHTTP authenticates and upgrades one client.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.cfg.LoginID != "" && (q.Get("login_id") != s.cfg.LoginID || q.Get("token") != s.cfg.Token) {
		s.rejected.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, subs: make(map[string]topic.Frame)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.connects.Add(1)
	s.log.Info("client connected", zap.String("login_id", q.Get("login_id")))

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleControl(c, msg)
	}
}

func (s *Server) handleControl(c *client, msg []byte) {
	f, err := topic.DecodeFrame(msg)
	if err != nil {
		s.log.Debug("bad control frame", zap.ByteString("frame", msg))
		return
	}
	s.mu.Lock()
	s.received = append(s.received, f)
	s.mu.Unlock()

	switch f.Action {
	case topic.ActionHeartbeat:
		s.heartbeats.Add(1)
	case topic.ActionSubscribe, topic.ActionUnsubscribe:
		key, err := subscriptionKey(f)
		if err != nil {
			return
		}
		c.mu.Lock()
		if f.Action == topic.ActionSubscribe {
			c.subs[key] = f
		} else {
			delete(c.subs, key)
		}
		c.mu.Unlock()
	}
}

func subscriptionKey(f topic.Frame) (string, error) {
	f.Action = topic.ActionSubscribe
	b, err := topic.EncodeFrame(f)
	return string(b), err
}

// Publish encodes rec and sends it to every client subscribed to it.
// Records without a wire method (market status) go to every client.
// It returns the number of clients written.
func (s *Server) Publish(rec packet.Record) (int, error) {
	frame, err := packet.Encode(rec)
	if err != nil {
		return 0, err
	}
	key, err := wireKey(rec)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range s.snapshot() {
		if key != "" && !c.subscribed(key) {
			continue
		}
		if err := c.write(websocket.BinaryMessage, frame); err == nil {
			n++
		}
	}
	return n, nil
}

// Broadcast sends raw bytes to every client regardless of subscriptions.
func (s *Server) Broadcast(frame []byte) int {
	n := 0
	for _, c := range s.snapshot() {
		if err := c.write(websocket.BinaryMessage, frame); err == nil {
			n++
		}
	}
	return n
}

// DropAll closes every client socket, as an outage would.
func (s *Server) DropAll() {
	for _, c := range s.snapshot() {
		_ = c.conn.Close()
	}
}

// Clients is the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Connects counts accepted upgrades.
func (s *Server) Connects() int { return int(s.connects.Load()) }

// Rejected counts failed authentications.
func (s *Server) Rejected() int { return int(s.rejected.Load()) }

// Heartbeats counts heartbeat frames received.
func (s *Server) Heartbeats() int { return int(s.heartbeats.Load()) }

// Received returns every control frame received with the given action.
func (s *Server) Received(action string) []topic.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []topic.Frame
	for _, f := range s.received {
		if f.Action == action {
			out = append(out, f)
		}
	}
	return out
}

func (s *Server) snapshot() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

// Run serves on cfg.Addr and, when TickInterval is set, streams gen output
// to subscribed clients until ctx is done.
func (s *Server) Run(ctx context.Context, gen *Generator) error {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	srv := &http.Server{Addr: s.cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("simulator listening", zap.String("addr", s.cfg.Addr), zap.String("path", s.cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var tick <-chan time.Time
	if s.cfg.TickInterval > 0 && gen != nil {
		t := time.NewTicker(s.cfg.TickInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.DropAll()
			return srv.Shutdown(shutdownCtx)
		case err, ok := <-errCh:
			if ok && err != nil {
				return err
			}
			return nil
		case <-tick:
			s.tick(gen)
		}
	}
}

func (s *Server) tick(gen *Generator) {
	for _, c := range s.snapshot() {
		for _, f := range c.frames() {
			for _, rec := range gen.Records(f) {
				frame, err := packet.Encode(rec)
				if err != nil {
					continue
				}
				if err := c.write(websocket.BinaryMessage, frame); err != nil {
					break
				}
			}
		}
	}
}

// wireKey is the normalised subscribe frame that delivers rec, or "" for
// records pushed without a subscription.
func wireKey(rec packet.Record) (string, error) {
	info, ok := packet.InfoForMode(rec.Mode)
	if !ok {
		return "", packet.ErrUnknownMode
	}
	res, err := topic.Spec{
		Type:     info.Type,
		Exchange: strconv.Itoa(rec.Exchange),
		Token:    rec.Token,
	}.Resolve()
	if err != nil {
		return "", err
	}
	return res.WireKey, nil
}
