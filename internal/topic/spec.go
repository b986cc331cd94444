// internal/topic/spec.go
package topic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/YaganovValera/market-feed/internal/exchange"
	"github.com/YaganovValera/market-feed/internal/packet"
)

var (
	ErrUnknownType  = errors.New("topic: unknown message type")
	ErrMissingToken = errors.New("topic: instrument token required")
	ErrBadSpec      = errors.New("topic: malformed spec")
)

// Spec is what a subscriber asks for. Exchange is a name or numeric code
// and defaults to NSE. Token is ignored outside instrument scope.
type Spec struct {
	Type     packet.MessageType `mapstructure:"type"`
	Exchange string             `mapstructure:"exchange"`
	Token    int64              `mapstructure:"token"`
}

func (s Spec) String() string {
	info, ok := packet.InfoForType(s.Type)
	if !ok {
		return string(s.Type)
	}
	switch info.Scope {
	case packet.ScopeAccount:
		return string(s.Type)
	case packet.ScopeExchange:
		return fmt.Sprintf("%s:%s", s.Type, exchange.Lookup(s.Exchange).Name)
	default:
		return fmt.Sprintf("%s:%s:%d", s.Type, exchange.Lookup(s.Exchange).Name, s.Token)
	}
}

// ParseSpec reads "Type[:exchange[:token]]", e.g. "DetailMarketDataMessage:NSE:3045".
func ParseSpec(s string) (Spec, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 3 {
		return Spec{}, fmt.Errorf("%w: %q", ErrBadSpec, s)
	}
	sp := Spec{Type: packet.MessageType(parts[0])}
	if len(parts) > 1 {
		sp.Exchange = parts[1]
	}
	if len(parts) > 2 {
		tok, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: token %q: %v", ErrBadSpec, parts[2], err)
		}
		sp.Token = tok
	}
	if _, err := sp.Resolve(); err != nil {
		return Spec{}, err
	}
	return sp, nil
}

// UnmarshalText reads the ParseSpec form, so specs can be plain strings in
// config files and env.
func (s *Spec) UnmarshalText(b []byte) error {
	sp, err := ParseSpec(string(b))
	if err != nil {
		return err
	}
	*s = sp
	return nil
}

// MarshalText writes the form UnmarshalText reads.
func (s Spec) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Resolved is a Spec bound to its routing topic and control frames.
type Resolved struct {
	Spec  Spec
	Info  packet.Info
	Topic packet.Topic
	// WireKey identifies the wire subscription; empty when the feed is
	// pushed without one. Topics sharing a control frame share a key.
	WireKey     string
	Subscribe   []byte
	Unsubscribe []byte
}

// HasWire reports whether the topic needs a wire subscription.
func (r Resolved) HasWire() bool { return r.WireKey != "" }

// Resolve computes the topic and control frames of s.
func (s Spec) Resolve() (Resolved, error) {
	info, ok := packet.InfoForType(s.Type)
	if !ok {
		return Resolved{}, fmt.Errorf("%w: %q", ErrUnknownType, s.Type)
	}
	exch := exchange.Lookup(s.Exchange)
	if info.Scope == packet.ScopeInstrument && s.Token <= 0 {
		return Resolved{}, fmt.Errorf("%w: %s", ErrMissingToken, s.Type)
	}

	res := Resolved{
		Spec:  s,
		Info:  info,
		Topic: packet.TopicFor(info, exch.Code, s.Token),
	}
	if info.Method == "" {
		return res, nil
	}

	var v []any
	switch info.Scope {
	case packet.ScopeInstrument:
		v = []any{[]int64{int64(exch.Code), s.Token}}
	case packet.ScopeExchange:
		v = []any{exch.Code}
	default:
		v = []any{}
	}
	sub, err := EncodeFrame(Frame{Action: ActionSubscribe, Value: v, Method: info.Method})
	if err != nil {
		return Resolved{}, err
	}
	unsub, err := EncodeFrame(Frame{Action: ActionUnsubscribe, Value: v, Method: info.Method})
	if err != nil {
		return Resolved{}, err
	}
	res.Subscribe, res.Unsubscribe = sub, unsub
	// The subscribe bytes already encode method and value.
	res.WireKey = string(sub)
	return res, nil
}
