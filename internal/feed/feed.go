// internal/feed/feed.go
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/internal/format"
	"github.com/YaganovValera/market-feed/internal/metrics"
	"github.com/YaganovValera/market-feed/internal/packet"
	"github.com/YaganovValera/market-feed/internal/topic"
	"github.com/YaganovValera/market-feed/pkg/backoff"
	"github.com/YaganovValera/market-feed/pkg/logger"
	"github.com/YaganovValera/market-feed/pkg/telemetry"
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("feed: closed")

var tracer = telemetry.Tracer("marketfeed/feed")

// Feed owns one WebSocket connection and the topic registry.
//
// All state lives on a single event-loop goroutine. Public methods post a
// request to the loop and wait for it. Subscriber callbacks run on the loop
// too, so they must not call back into the Feed synchronously.
type Feed struct {
	cfg    Config
	log    *logger.Logger
	creds  CredentialsProvider
	dialer Dialer
	reg    *topic.Registry
	policy *backoff.Policy

	ctx    context.Context // cancelled by Close, bounds dials
	cancel context.CancelFunc

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
	stateV    atomic.Int32

	// unsubscribes requested from inside a callback
	dispatching atomic.Bool
	deferredMu  sync.Mutex
	deferred    []topic.Handle

	// ---- owned by the loop goroutine ----
	stopped bool
	closed  bool
	state   State

	conn     Conn
	sockGen  uint64
	sockStop chan struct{}

	attempt            uint64
	connectStarted     time.Time
	reconnectInFlight  bool
	reconnectScheduled bool
	schedGen           uint64
	schedTimer         *time.Timer
	safetyGen          uint64
	safetyTimer        *time.Timer
	waiters            []chan connectResult

	wantConnected bool
	visible       bool
	online        bool
	processing    bool
	hiddenAt      time.Time
}

type connectResult struct {
	ok  bool
	err error
}

type dialResult struct {
	conn    Conn
	noCreds bool
	err     error
}

// Option customises a Feed.
type Option func(*Feed)

// WithDialer replaces the gorilla dialer (tests, proxies).
func WithDialer(d Dialer) Option { return func(f *Feed) { f.dialer = d } }

// New validates cfg and starts the event loop. The feed stays disconnected
// until Connect is called.
func New(cfg Config, creds CredentialsProvider, log *logger.Logger, opts ...Option) (*Feed, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, fmt.Errorf("feed: credentials provider is required")
	}
	policy, err := backoff.NewPolicy("feed-reconnect", cfg.Backoff)
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		cfg:     cfg,
		log:     log.Named("feed"),
		creds:   creds,
		dialer:  WebsocketDialer{Dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}},
		policy:  policy,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan func(), 1024),
		done:    make(chan struct{}),
		visible: !cfg.StartHidden,
		online:  true,
	}
	for _, o := range opts {
		o(f)
	}
	f.reg = topic.NewRegistry(loopWire{f}, log)
	f.setState(Disconnected)

	go f.loop()
	return f, nil
}

// -----------------------------------------------------------------------------
// Public API
// -----------------------------------------------------------------------------

// Connect opens the socket. It returns true at once when already open and
// joins an attempt that is in flight. Missing credentials return false
// without dialing. A failed dial is retried in the background.
func (f *Feed) Connect(ctx context.Context) (bool, error) {
	reply := make(chan connectResult, 1)
	if !f.post(func() { f.requestConnect(reply) }) {
		return false, ErrClosed
	}
	select {
	case r := <-reply:
		return r.ok, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	case <-f.done:
		return false, ErrClosed
	}
}

// IsConnected reports whether the socket is open.
func (f *Feed) IsConnected() bool { return f.State() == Open }

// State returns the current connection state.
func (f *Feed) State() State { return State(f.stateV.Load()) }

// Handle is one registered callback.
type Handle struct {
	f     *Feed
	h     topic.Handle
	Topic packet.Topic
}

// Subscribe registers cb for spec. The wire subscription is sent now when
// the socket is open and replayed on every (re)connect.
func (f *Feed) Subscribe(ctx context.Context, spec topic.Spec, cb topic.Callback) (*Handle, error) {
	if cb == nil {
		return nil, fmt.Errorf("feed: nil callback")
	}
	var (
		h   topic.Handle
		err error
	)
	if derr := f.do(ctx, func() { h, err = f.reg.Subscribe(spec, cb) }); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}
	return &Handle{f: f, h: h, Topic: h.Topic}, nil
}

// Unsubscribe removes this callback. Calling it twice is a no-op. Called
// from inside a callback it returns at once and takes effect when the
// current dispatch pass ends.
func (h *Handle) Unsubscribe(ctx context.Context) error {
	f := h.f
	if f.dispatching.Load() {
		f.deferredMu.Lock()
		f.deferred = append(f.deferred, h.h)
		f.deferredMu.Unlock()
		// wake the loop in case the pass already ended; never block here
		select {
		case f.events <- func() {}:
		default:
		}
		return nil
	}
	return f.do(ctx, func() { f.reg.Unsubscribe(h.h) })
}

// RefreshSubscriptions resends every active wire subscription. It returns
// false when the socket is not open.
func (f *Feed) RefreshSubscriptions(ctx context.Context) (bool, error) {
	var ok bool
	err := f.do(ctx, func() {
		if f.state != Open || f.conn == nil {
			return
		}
		ok = f.reg.Replay() == f.reg.WireSubscriptions()
	})
	return ok, err
}

// SetVisible reports host visibility. Hidden pauses processing while
// heartbeats continue.
func (f *Feed) SetVisible(v bool) { f.post(func() { f.setVisible(v) }) }

// SetOnline reports network reachability.
func (f *Feed) SetOnline(on bool) { f.post(func() { f.setOnline(on) }) }

// ForceReconnect drops the socket and reconnects after the settle delay.
func (f *Feed) ForceReconnect() { f.post(func() { f.forceReconnect("manual") }) }

// Status returns a snapshot of the feed.
func (f *Feed) Status(ctx context.Context) (Status, error) {
	var st Status
	err := f.do(ctx, func() {
		st = Status{
			State:             f.state,
			StateName:         f.state.String(),
			Visible:           f.visible,
			Online:            f.online,
			Processing:        f.processing,
			ReconnectPending:  f.reconnectScheduled,
			ConnectInFlight:   f.reconnectInFlight,
			Topics:            f.reg.Topics(),
			WireSubscriptions: f.reg.WireSubscriptions(),
		}
	})
	return st, err
}

// Run connects and blocks until ctx is done, then closes the feed.
func (f *Feed) Run(ctx context.Context) error {
	ok, err := f.Connect(ctx)
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		f.log.Warn("initial connect failed, retrying in background", zap.Error(err))
	case !ok && err == nil:
		f.log.Warn("initial connect skipped: no credentials")
	}
	<-ctx.Done()
	return f.Close()
}

// Close stops the loop and the socket. It is safe to call more than once.
func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		if f.post(f.shutdown) {
			<-f.done
		}
	})
	return nil
}

// -----------------------------------------------------------------------------
// Loop plumbing
// -----------------------------------------------------------------------------

func (f *Feed) loop() {
	defer close(f.done)
	for {
		fn := <-f.events
		fn()
		if f.stopped {
			return
		}
		f.applyDeferred()
	}
}

// post queues fn on the loop. It returns false once the loop has exited.
func (f *Feed) post(fn func()) bool {
	select {
	case <-f.done:
		return false
	default:
	}
	select {
	case f.events <- fn:
		return true
	case <-f.done:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (f *Feed) do(ctx context.Context, fn func()) error {
	fin := make(chan struct{})
	var skipped bool
	wrapped := func() {
		defer close(fin)
		if f.closed {
			skipped = true
			return
		}
		fn()
	}
	select {
	case <-f.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case f.events <- wrapped:
	}
	select {
	case <-fin:
		if skipped {
			return ErrClosed
		}
		return nil
	case <-f.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) applyDeferred() {
	f.deferredMu.Lock()
	hs := f.deferred
	f.deferred = nil
	f.deferredMu.Unlock()
	for _, h := range hs {
		f.reg.Unsubscribe(h)
	}
}

func (f *Feed) setState(s State) {
	prev := f.state
	f.state = s
	f.stateV.Store(int32(s))
	for _, st := range []State{Disconnected, Connecting, Open, Reconnecting} {
		v := 0.0
		if st == s {
			v = 1
		}
		metrics.State.WithLabelValues(st.String()).Set(v)
	}
	if prev != s {
		f.log.Debug("state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

func (f *Feed) shutdown() {
	f.closed = true
	f.stopped = true
	f.cancelSchedule()
	f.stopSafety()
	f.attempt++
	f.reconnectInFlight = false
	f.closeSocket()
	f.resolveWaiters(false, ErrClosed)
	f.setState(Disconnected)
	f.cancel()
	f.log.Info("feed closed")
}

// -----------------------------------------------------------------------------
// Connection lifecycle (loop only)
// -----------------------------------------------------------------------------

func (f *Feed) requestConnect(reply chan connectResult) {
	if f.closed {
		reply <- connectResult{false, ErrClosed}
		return
	}
	f.wantConnected = true
	if f.conn != nil {
		reply <- connectResult{true, nil}
		return
	}
	f.waiters = append(f.waiters, reply)
	if f.reconnectInFlight {
		return
	}
	f.cancelSchedule()
	f.startConnect("connect")
}

func (f *Feed) shouldReconnect() bool {
	return !f.closed && f.wantConnected && f.visible && f.online
}

func (f *Feed) startConnect(trigger string) {
	f.attempt++
	attempt := f.attempt
	f.connectStarted = time.Now()
	f.reconnectInFlight = true
	f.setState(Connecting)
	f.log.Debug("connecting", logger.Trigger(trigger), logger.Attempt(attempt))

	go func() {
		ctx, cancel := context.WithTimeout(f.ctx, f.cfg.DialTimeout)
		defer cancel()
		res := f.dial(ctx, trigger)
		if !f.post(func() { f.onDialResult(attempt, res) }) && res.conn != nil {
			_ = res.conn.Close()
		}
	}()
}

// dial runs off the loop.
func (f *Feed) dial(ctx context.Context, trigger string) dialResult {
	ctx, span := tracer.Start(ctx, "feed.connect")
	defer span.End()
	span.SetAttributes(attribute.String("trigger", trigger))

	creds, err := f.creds.Credentials(ctx)
	if err != nil {
		span.RecordError(err)
		return dialResult{noCreds: true, err: fmt.Errorf("feed: credentials: %w", err)}
	}
	if !creds.Valid() {
		return dialResult{noCreds: true}
	}
	conn, err := f.dialer.Dial(ctx, f.cfg.endpoint(creds))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return dialResult{err: err}
	}
	return dialResult{conn: conn}
}

func (f *Feed) onDialResult(attempt uint64, res dialResult) {
	if attempt != f.attempt || f.closed {
		if res.conn != nil {
			_ = res.conn.Close()
		}
		return
	}
	f.reconnectInFlight = false

	switch {
	case res.noCreds:
		metrics.Connects.WithLabelValues("no_credentials").Inc()
		f.log.Warn("connect skipped: credentials unavailable", zap.Error(res.err))
		f.setState(Disconnected)
		f.resolveWaiters(false, res.err)
		return

	case res.err != nil:
		metrics.Connects.WithLabelValues("error").Inc()
		f.log.Warn("connect failed", zap.Error(res.err))
		f.setState(Disconnected)
		f.resolveWaiters(false, res.err)
		if f.shouldReconnect() {
			f.scheduleReconnect(f.policy.Next(), "retry")
		}
		f.armSafety()
		return
	}

	metrics.Connects.WithLabelValues("ok").Inc()
	f.openSocket(res.conn)
	f.resolveWaiters(true, nil)
}

func (f *Feed) openSocket(conn Conn) {
	f.sockGen++
	gen := f.sockGen
	f.conn = conn
	f.sockStop = make(chan struct{})
	f.policy.Reset()
	f.setState(Open)
	f.processing = f.visible && f.online

	go f.readLoop(conn, gen)
	go f.heartbeatLoop(gen, f.sockStop)

	n := f.reg.Replay()
	f.log.Info("socket open",
		logger.Generation(gen),
		zap.Int("resubscribed", n),
		zap.Bool("processing", f.processing),
	)
}

// closeSocket drops the current socket. Bumping sockGen makes every frame
// still queued from it stale.
func (f *Feed) closeSocket() {
	if f.conn == nil {
		return
	}
	close(f.sockStop)
	_ = f.conn.Close()
	f.conn = nil
	f.sockStop = nil
	f.sockGen++
}

func (f *Feed) resolveWaiters(ok bool, err error) {
	for _, w := range f.waiters {
		w <- connectResult{ok, err}
	}
	f.waiters = nil
}

func (f *Feed) onSocketError(gen uint64, err error) {
	if gen != f.sockGen || f.closed {
		return
	}
	f.log.Warn("socket error", logger.Generation(gen), zap.Error(err))
	f.closeSocket()
	f.processing = false

	switch {
	case f.reconnectScheduled || f.reconnectInFlight:
		f.setState(Reconnecting)
	case f.shouldReconnect():
		f.scheduleReconnect(f.cfg.ReconnectDebounce, "socket_error")
	default:
		f.setState(Disconnected)
	}
	f.armSafety()
}

// scheduleReconnect (re)starts the single pending reconnect timer. Each
// call supersedes the previous one, so bursts collapse into one connect.
func (f *Feed) scheduleReconnect(delay time.Duration, trigger string) {
	f.schedGen++
	gen := f.schedGen
	if f.schedTimer != nil {
		f.schedTimer.Stop()
	}
	f.reconnectScheduled = true
	if f.conn == nil {
		f.setState(Reconnecting)
	}
	metrics.Reconnects.WithLabelValues(trigger).Inc()

	f.schedTimer = time.AfterFunc(delay, func() {
		f.post(func() {
			if gen != f.schedGen || f.closed {
				return
			}
			f.reconnectScheduled = false
			f.schedTimer = nil
			if f.conn != nil || f.reconnectInFlight {
				return
			}
			f.startConnect(trigger)
		})
	})
}

func (f *Feed) cancelSchedule() {
	f.schedGen++
	if f.schedTimer != nil {
		f.schedTimer.Stop()
		f.schedTimer = nil
	}
	f.reconnectScheduled = false
}

// armSafety checks again SafetyDelay after an error.
func (f *Feed) armSafety() {
	f.stopSafety()
	gen := f.safetyGen
	f.safetyTimer = time.AfterFunc(f.cfg.SafetyDelay, func() {
		f.post(func() {
			if gen != f.safetyGen || f.closed {
				return
			}
			f.safetyTimer = nil
			f.safetyCheck()
		})
	})
}

// safetyCheck retries when the feed should be connected and is not. A
// pending reconnect timer is waited for. A dial running longer than
// SafetyDelay is treated as stuck: its guard is reset and its result
// will be discarded.
func (f *Feed) safetyCheck() {
	if f.conn != nil || !f.shouldReconnect() {
		return
	}
	if f.reconnectScheduled || (f.reconnectInFlight && time.Since(f.connectStarted) < f.cfg.SafetyDelay) {
		f.armSafety()
		return
	}
	if f.reconnectInFlight {
		f.attempt++
		f.reconnectInFlight = false
	}
	f.log.Info("safety retry")
	metrics.Reconnects.WithLabelValues("safety").Inc()
	f.startConnect("safety")
}

func (f *Feed) stopSafety() {
	f.safetyGen++
	if f.safetyTimer != nil {
		f.safetyTimer.Stop()
		f.safetyTimer = nil
	}
}

func (f *Feed) forceReconnect(trigger string) {
	if f.closed || !f.wantConnected {
		return
	}
	f.log.Info("forced reconnect", logger.Trigger(trigger))
	f.processing = false
	f.closeSocket()
	if f.reconnectInFlight {
		// discard the pending attempt; its waiters ride on the next one
		f.attempt++
		f.reconnectInFlight = false
	}
	f.setState(Reconnecting)
	f.scheduleReconnect(f.cfg.ForceSettle, trigger)
}

// -----------------------------------------------------------------------------
// Visibility and network (loop only)
// -----------------------------------------------------------------------------

func (f *Feed) setVisible(v bool) {
	if !v {
		if f.visible {
			f.hiddenAt = time.Now()
		}
		f.visible = false
		f.processing = false
		f.log.Debug("hidden: processing paused")
		return
	}
	wasHidden := !f.visible
	f.visible = true
	if !wasHidden || f.closed || !f.wantConnected {
		return
	}
	hiddenFor := time.Since(f.hiddenAt)

	if f.conn == nil {
		if f.online && !f.reconnectInFlight {
			f.cancelSchedule()
			f.startConnect("visible")
		}
		return
	}
	if hiddenFor > f.cfg.HiddenThreshold {
		f.forceReconnect("hidden_timeout")
		return
	}
	f.processing = f.online
	f.log.Debug("visible: processing resumed", zap.Duration("hidden_for", hiddenFor))
}

func (f *Feed) setOnline(on bool) {
	if !on {
		f.online = false
		f.processing = false
		f.cancelSchedule()
		if f.conn == nil && !f.reconnectInFlight {
			f.setState(Disconnected)
		}
		f.log.Info("offline: processing paused")
		return
	}
	f.online = true
	if f.closed || !f.wantConnected || !f.visible {
		return
	}
	if f.conn != nil {
		f.processing = true
		return
	}
	if f.reconnectInFlight {
		// clear a possibly stuck guard; the stale result is discarded
		f.attempt++
		f.reconnectInFlight = false
	}
	f.log.Info("online: reconnecting")
	f.scheduleReconnect(f.cfg.ReconnectDebounce, "online")
}

// -----------------------------------------------------------------------------
// Socket goroutines
// -----------------------------------------------------------------------------

func (f *Feed) readLoop(conn Conn, gen uint64) {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			f.post(func() { f.onSocketError(gen, err) })
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		if !f.post(func() { f.onFrame(gen, data) }) {
			return
		}
	}
}

func (f *Feed) heartbeatLoop(gen uint64, stop <-chan struct{}) {
	t := time.NewTicker(f.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-f.done:
			return
		case <-t.C:
			f.post(func() {
				if gen != f.sockGen || f.conn == nil {
					return
				}
				if err := f.write(topic.Heartbeat()); err != nil {
					f.log.Warn("heartbeat failed", zap.Error(err))
					return
				}
				metrics.WireFrames.WithLabelValues(topic.ActionHeartbeat).Inc()
			})
		}
	}
}

func (f *Feed) onFrame(gen uint64, data []byte) {
	if gen != f.sockGen {
		metrics.FramesTotal.WithLabelValues("stale").Inc()
		return
	}
	if !f.processing {
		metrics.FramesTotal.WithLabelValues("paused").Inc()
		return
	}
	start := time.Now()
	tp, rec, err := packet.Decode(data)
	if err != nil {
		metrics.FramesTotal.WithLabelValues("decode_error").Inc()
		metrics.DecodeErrors.WithLabelValues(decodeReason(err)).Inc()
		f.log.Debug("frame dropped", zap.Error(err))
		return
	}
	f.dispatching.Store(true)
	f.reg.Dispatch(tp, format.Format(rec))
	f.dispatching.Store(false)
	metrics.FramesTotal.WithLabelValues("dispatched").Inc()
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, packet.ErrShortBuffer):
		return "short_buffer"
	case errors.Is(err, packet.ErrUnknownMode):
		return "unknown_mode"
	case errors.Is(err, packet.ErrMalformedBody):
		return "malformed_body"
	default:
		return "other"
	}
}

func (f *Feed) write(frame []byte) error {
	if f.conn == nil {
		return fmt.Errorf("feed: socket not open")
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
	return f.conn.WriteMessage(websocket.TextMessage, frame)
}

// loopWire lets the registry write through the loop-owned socket.
type loopWire struct{ f *Feed }

func (w loopWire) IsOpen() bool           { return w.f.state == Open && w.f.conn != nil }
func (w loopWire) Send(frame []byte) error { return w.f.write(frame) }
