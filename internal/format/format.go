// internal/format/format.go

// Package format turns decoded fixed-point records into scaled events.
// It is the only place exchange divisors are applied.
package format

import (
	"github.com/shopspring/decimal"

	"github.com/YaganovValera/market-feed/internal/exchange"
	"github.com/YaganovValera/market-feed/internal/packet"
)

// GreekDivisor scales option greeks and implied volatility.
const GreekDivisor = 1_000_000

// 10^18 is the largest power of ten that fits an int64.
const maxPrecision = 18

// Event is what subscribers receive.
type Event struct {
	Topic        packet.Topic       `json:"topic"`
	Type         packet.MessageType `json:"type"`
	Exchange     string             `json:"exchange,omitempty"`
	ExchangeCode int                `json:"exchange_code,omitempty"`
	Token        int64              `json:"token,omitempty"`
	Divisor      int64              `json:"divisor,omitempty"`
	Clamped      bool               `json:"clamped,omitempty"`

	Prices      map[string]float64   `json:"prices,omitempty"`
	Quantities  map[string]int64     `json:"quantities,omitempty"`
	Greeks      map[string]float64   `json:"greeks,omitempty"`
	Values      map[string]int64     `json:"values,omitempty"`
	PriceLevels map[string][]float64 `json:"price_levels,omitempty"`
	QtyLevels   map[string][]int64   `json:"qty_levels,omitempty"`

	// Set when the record has both ltp and close.
	HasChange      bool    `json:"has_change,omitempty"`
	AbsoluteChange float64 `json:"absolute_change,omitempty"`
	PercentChange  float64 `json:"percent_change,omitempty"`

	Text string         `json:"text,omitempty"`
	Body map[string]any `json:"body,omitempty"`
}

// Price returns a scaled price field or 0.
func (e Event) Price(name string) float64 { return e.Prices[name] }

// Qty returns a quantity field or 0.
func (e Event) Qty(name string) int64 { return e.Quantities[name] }

// Format scales rec. Records with a non-zero pricePrecision p use 10^p as
// divisor instead of the exchange table.
func Format(rec packet.Record) Event {
	ev := Event{
		Topic:   rec.Topic(),
		Type:    rec.Type,
		Token:   rec.Token,
		Clamped: rec.Clamped,
		Text:    rec.Text,
		Body:    rec.Body,
	}
	l, ok := packet.LayoutFor(rec.Mode)
	if !ok || l.Body == packet.BodyJSON {
		return ev
	}

	exch := exchange.LookupCode(rec.Exchange)
	ev.Exchange, ev.ExchangeCode = exch.Name, exch.Code
	ev.Divisor = exch.Divisor
	if p := rec.Value("pricePrecision"); p > 0 {
		if p > maxPrecision {
			p = maxPrecision
		}
		ev.Divisor = decimal.New(1, int32(p)).IntPart()
	}
	div := decimal.NewFromInt(ev.Divisor)

	for _, f := range l.Fields {
		if f.Count > 1 {
			raw := rec.Levels[f.Name]
			if f.Class == packet.ClassPrice {
				out := make([]float64, len(raw))
				for i, v := range raw {
					out[i] = scale(v, div)
				}
				put(&ev.PriceLevels, f.Name, out)
			} else {
				out := make([]int64, len(raw))
				copy(out, raw)
				put(&ev.QtyLevels, f.Name, out)
			}
			continue
		}
		v := rec.Value(f.Name)
		switch f.Class {
		case packet.ClassPrice:
			put(&ev.Prices, f.Name, scale(v, div))
		case packet.ClassQty:
			put(&ev.Quantities, f.Name, v)
		case packet.ClassGreek:
			put(&ev.Greeks, f.Name, scale(v, decimal.NewFromInt(GreekDivisor)))
		default:
			put(&ev.Values, f.Name, v)
		}
	}

	if l.HasField("ltp") && l.HasField("close") {
		ev.HasChange = true
		ev.AbsoluteChange, ev.PercentChange = change(rec.Value("ltp"), rec.Value("close"), div)
	}
	return ev
}

// Scale divides a fixed-point value by divisor.
func Scale(v, divisor int64) float64 {
	if divisor == 0 {
		divisor = 1
	}
	return scale(v, decimal.NewFromInt(divisor))
}

func scale(v int64, div decimal.Decimal) float64 {
	f, _ := decimal.NewFromInt(v).Div(div).Float64()
	return f
}

// change returns ltp-close and its percentage of close, both scaled.
// Percent is 0 when close is 0.
func change(ltp, closePrice int64, div decimal.Decimal) (float64, float64) {
	l := decimal.NewFromInt(ltp).Div(div)
	c := decimal.NewFromInt(closePrice).Div(div)
	abs := l.Sub(c)
	absF, _ := abs.Float64()
	if c.IsZero() {
		return absF, 0
	}
	pct, _ := abs.Mul(decimal.NewFromInt(100)).Div(c).Float64()
	return absF, pct
}

func put[V any](m *map[string]V, k string, v V) {
	if *m == nil {
		*m = make(map[string]V)
	}
	(*m)[k] = v
}
