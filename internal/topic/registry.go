// internal/topic/registry.go
package topic

import (
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/internal/format"
	"github.com/YaganovValera/market-feed/internal/metrics"
	"github.com/YaganovValera/market-feed/internal/packet"
	"github.com/YaganovValera/market-feed/pkg/logger"
	"github.com/YaganovValera/market-feed/pkg/safe"
)

// Callback receives formatted events for one topic.
type Callback func(format.Event)

// Wire is the write side of the connection as seen by the registry.
type Wire interface {
	IsOpen() bool
	Send(frame []byte) error
}

// Handle identifies one registered callback.
type Handle struct {
	Topic packet.Topic
	ID    uint64
}

type entry struct {
	id uint64
	cb Callback
}

type subscription struct {
	res       Resolved
	callbacks []entry
}

// Registry maps topics to ordered callbacks and keeps wire subscriptions
// reference-counted by control frame. It is not safe for concurrent use;
// the feed event loop owns it.
type Registry struct {
	wire   Wire
	log    *logger.Logger
	subs   map[packet.Topic]*subscription
	refs   map[string]int
	order  []string // wire keys in first-subscribe order
	frames map[string][]byte
	nextID uint64
}

// NewRegistry builds an empty registry writing through w.
func NewRegistry(w Wire, log *logger.Logger) *Registry {
	return &Registry{
		wire:   w,
		log:    log.Named("topic-registry"),
		subs:   make(map[packet.Topic]*subscription),
		refs:   make(map[string]int),
		frames: make(map[string][]byte),
	}
}

// Subscribe registers cb for spec. The first subscriber of a wire frame
// sends it when the connection is open; otherwise Replay sends it later.
func (r *Registry) Subscribe(spec Spec, cb Callback) (Handle, error) {
	res, err := spec.Resolve()
	if err != nil {
		return Handle{}, err
	}
	r.nextID++
	h := Handle{Topic: res.Topic, ID: r.nextID}

	sub, ok := r.subs[res.Topic]
	if ok {
		sub.callbacks = append(sub.callbacks, entry{id: h.ID, cb: cb})
		return h, nil
	}
	r.subs[res.Topic] = &subscription{res: res, callbacks: []entry{{id: h.ID, cb: cb}}}
	metrics.ActiveTopics.Set(float64(len(r.subs)))

	if res.HasWire() {
		r.refs[res.WireKey]++
		if r.refs[res.WireKey] == 1 {
			r.order = append(r.order, res.WireKey)
			r.frames[res.WireKey] = res.Subscribe
			r.send(ActionSubscribe, res.Subscribe, res.Topic)
		}
	}
	r.log.Debug("topic registered", logger.Topic(string(res.Topic)))
	return h, nil
}

// Unsubscribe removes exactly the callback behind h. Unknown or already
// removed handles are a no-op and return false.
func (r *Registry) Unsubscribe(h Handle) bool {
	sub, ok := r.subs[h.Topic]
	if !ok {
		return false
	}
	idx := -1
	for i, e := range sub.callbacks {
		if e.id == h.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	// copy so a dispatch pass holding the old slice is unaffected
	next := make([]entry, 0, len(sub.callbacks)-1)
	next = append(next, sub.callbacks[:idx]...)
	next = append(next, sub.callbacks[idx+1:]...)
	sub.callbacks = next
	if len(next) > 0 {
		return true
	}

	delete(r.subs, h.Topic)
	metrics.ActiveTopics.Set(float64(len(r.subs)))
	res := sub.res
	if res.HasWire() {
		r.refs[res.WireKey]--
		if r.refs[res.WireKey] <= 0 {
			delete(r.refs, res.WireKey)
			delete(r.frames, res.WireKey)
			r.dropOrder(res.WireKey)
			r.send(ActionUnsubscribe, res.Unsubscribe, res.Topic)
		}
	}
	r.log.Debug("topic removed", logger.Topic(string(h.Topic)))
	return true
}

// Dispatch calls every callback registered for topic, in order. A panic in
// one callback is logged and counted and the rest still run. It returns
// the number of callbacks invoked.
func (r *Registry) Dispatch(topic packet.Topic, ev format.Event) int {
	sub, ok := r.subs[topic]
	if !ok {
		return 0
	}
	cbs := sub.callbacks
	for _, e := range cbs {
		if err := safe.Call(func() { e.cb(ev) }); err != nil {
			metrics.CallbackPanics.Inc()
			r.log.Error("subscriber callback panicked",
				logger.Topic(string(topic)),
				logger.SubscriberID(e.id),
				zap.Error(err),
			)
		}
	}
	return len(cbs)
}

// Replay sends every distinct wire subscribe frame once, in first-subscribe
// order. It returns the number of frames written.
func (r *Registry) Replay() int {
	n := 0
	for _, key := range r.order {
		if err := r.wire.Send(r.frames[key]); err != nil {
			r.log.Warn("replay send failed", zap.Error(err))
			return n
		}
		metrics.WireFrames.WithLabelValues(ActionSubscribe).Inc()
		n++
	}
	return n
}

// Has reports whether topic has at least one callback.
func (r *Registry) Has(topic packet.Topic) bool {
	_, ok := r.subs[topic]
	return ok
}

// Topics returns the number of registered topics.
func (r *Registry) Topics() int { return len(r.subs) }

// Callbacks returns the number of callbacks on topic.
func (r *Registry) Callbacks(topic packet.Topic) int {
	if sub, ok := r.subs[topic]; ok {
		return len(sub.callbacks)
	}
	return 0
}

// WireSubscriptions returns the number of distinct wire frames held.
func (r *Registry) WireSubscriptions() int { return len(r.order) }

func (r *Registry) send(action string, frame []byte, topic packet.Topic) {
	if !r.wire.IsOpen() {
		return
	}
	if err := r.wire.Send(frame); err != nil {
		r.log.Warn("control frame send failed",
			logger.WireAction(action),
			logger.Topic(string(topic)),
			zap.Error(err),
		)
		return
	}
	metrics.WireFrames.WithLabelValues(action).Inc()
}

func (r *Registry) dropOrder(key string) {
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			return
		}
	}
}
