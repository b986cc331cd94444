// internal/simulator/generator.go
package simulator

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/YaganovValera/market-feed/internal/packet"
	"github.com/YaganovValera/market-feed/internal/topic"
)

// Generator produces synthetic records for a subscribe frame. Prices walk
// randomly around a per-token seed; close stays fixed for the session.
type Generator struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	last  map[[2]int64]int64
	close map[[2]int64]int64
	now   func() time.Time
}

// NewGenerator seeds a generator. Equal seeds give equal streams.
func NewGenerator(seed uint64) *Generator {
	return &Generator{
		rnd:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		last:  make(map[[2]int64]int64),
		close: make(map[[2]int64]int64),
		now:   time.Now,
	}
}

// Records returns one record per mode the frame's method delivers.
func (g *Generator) Records(f topic.Frame) []packet.Record {
	if f.Action != topic.ActionSubscribe {
		return nil
	}
	var out []packet.Record
	for _, info := range packet.Infos() {
		if info.Method != f.Method {
			continue
		}
		switch info.Scope {
		case packet.ScopeInstrument:
			for _, pair := range f.Value {
				exch, token, ok := instrumentPair(pair)
				if !ok {
					continue
				}
				out = append(out, g.instrument(info, exch, token))
			}
		case packet.ScopeExchange:
			for _, v := range f.Value {
				if exch, ok := asInt(v); ok {
					out = append(out, g.exchange(info, int(exch)))
				}
			}
		default:
			out = append(out, g.account(info))
		}
	}
	return out
}

func (g *Generator) instrument(info packet.Info, exch int, token int64) packet.Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := [2]int64{int64(exch), token}
	ltp, ok := g.last[key]
	if !ok {
		ltp = 10_000 + g.rnd.Int64N(500_000)
		g.close[key] = ltp
	}
	ltp += g.rnd.Int64N(201) - 100
	if ltp < 1 {
		ltp = 1
	}
	g.last[key] = ltp
	closePx := g.close[key]
	ts := g.now().Unix()

	rec := packet.Record{
		Mode:     info.Mode,
		Type:     info.Type,
		Exchange: exch,
		Token:    token,
		Values:   map[string]int64{},
		Levels:   map[string][]int64{},
	}
	l, _ := packet.LayoutFor(info.Mode)
	for _, fld := range l.Fields {
		if fld.Count > 1 {
			lv := make([]int64, fld.Count)
			for i := range lv {
				switch fld.Class {
				case packet.ClassPrice:
					lv[i] = ltp - int64(i+1)*5
				default:
					lv[i] = 1 + g.rnd.Int64N(1000)
				}
			}
			rec.Levels[fld.Name] = lv
			continue
		}
		switch fld.Class {
		case packet.ClassPrice:
			rec.Values[fld.Name] = ltp
		case packet.ClassQty:
			rec.Values[fld.Name] = 1 + g.rnd.Int64N(10_000)
		case packet.ClassTime:
			rec.Values[fld.Name] = ts
		case packet.ClassGreek:
			rec.Values[fld.Name] = g.rnd.Int64N(2_000_000) - 1_000_000
		}
	}
	rec.Values["close"] = closePx
	return rec
}

func (g *Generator) exchange(info packet.Info, exch int) packet.Record {
	rec := packet.Record{Mode: info.Mode, Type: info.Type, Exchange: exch, Values: map[string]int64{}}
	switch info.Mode {
	case packet.ModeExchangeMessage:
		rec.Values["ts"] = g.now().Unix()
		rec.Text = "simulated exchange notice"
	case packet.ModeMarketStatus:
		rec.Values["marketType"] = 1
		rec.Values["status"] = 2
	}
	return rec
}

func (g *Generator) account(info packet.Info) packet.Record {
	return packet.Record{
		Mode: info.Mode,
		Type: info.Type,
		Body: map[string]any{
			"type": string(info.Type),
			"ts":   g.now().Unix(),
		},
	}
}

func instrumentPair(v any) (int, int64, bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return 0, 0, false
	}
	exch, ok1 := asInt(pair[0])
	token, ok2 := asInt(pair[1])
	return int(exch), token, ok1 && ok2
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
