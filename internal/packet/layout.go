// internal/packet/layout.go
package packet

// Kind is the wire width and signedness of a field.
type Kind uint8

const (
	KindU8 Kind = iota
	KindU16
	KindU32
	KindI32
	KindI64
	KindU64
)

// Size is the encoded width in bytes.
func (k Kind) Size() int {
	switch k {
	case KindU8:
		return 1
	case KindU16:
		return 2
	case KindU32, KindI32:
		return 4
	default:
		return 8
	}
}

// Class tells the formatter what a field means.
type Class uint8

const (
	ClassValue     Class = iota // identifiers, enums, counters
	ClassPrice                  // fixed-point, scaled by the divisor
	ClassQty                    // integer quantity
	ClassTime                   // epoch seconds
	ClassGreek                  // fixed-point ×1e6
	ClassPrecision              // embedded price precision
	ClassLength                 // length of the trailing text
)

// Field is one entry of a layout's field table.
type Field struct {
	Name   string
	Offset int
	Kind   Kind
	Count  int // >1 for per-level arrays
	Class  Class
}

// End is the first offset after the field.
func (f Field) End() int {
	n := f.Count
	if n < 1 {
		n = 1
	}
	return f.Offset + n*f.Kind.Size()
}

// Body is what follows the fixed fields.
type Body uint8

const (
	BodyNone Body = iota
	BodyText      // length-prefixed text, length field is ClassLength
	BodyJSON      // JSON object starting after the mode byte
)

// Layout describes how one mode is laid out on the wire.
type Layout struct {
	Info
	Fields []Field
	Body   Body
	MinLen int
}

// Field returns the named field.
func (l *Layout) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasField reports whether the layout carries name.
func (l *Layout) HasField(name string) bool {
	_, ok := l.Field(name)
	return ok
}

// Offsets 0 and 1 hold mode and exchange for every binary layout, so field
// tables start at 2.
const headerLen = 2

type spec struct {
	name  string
	kind  Kind
	count int
	class Class
}

func one(name string, k Kind, c Class) spec { return spec{name: name, kind: k, count: 1, class: c} }
func many(name string, k Kind, n int, c Class) spec {
	return spec{name: name, kind: k, count: n, class: c}
}

func fixed(mode Mode, specs ...spec) *Layout {
	info, ok := InfoForMode(mode)
	if !ok {
		panic("packet: layout for unknown mode")
	}
	l := &Layout{Info: info, MinLen: headerLen}
	off := headerLen
	for _, s := range specs {
		f := Field{Name: s.name, Offset: off, Kind: s.kind, Count: s.count, Class: s.class}
		l.Fields = append(l.Fields, f)
		off = f.End()
	}
	l.MinLen = off
	return l
}

func jsonBody(mode Mode) *Layout {
	info, ok := InfoForMode(mode)
	if !ok {
		panic("packet: layout for unknown mode")
	}
	return &Layout{Info: info, Body: BodyJSON, MinLen: 1}
}

func snapquote(mode Mode, levels int) *Layout {
	return fixed(mode,
		one("token", KindU64, ClassValue),
		many("bidPrices", KindI32, levels, ClassPrice),
		many("bidQty", KindI64, levels, ClassQty),
		many("bidOrders", KindI32, levels, ClassQty),
		many("askPrices", KindI32, levels, ClassPrice),
		many("askQty", KindI64, levels, ClassQty),
		many("askOrders", KindI32, levels, ClassQty),
		one("atp", KindI32, ClassPrice),
		one("open", KindI32, ClassPrice),
		one("high", KindI32, ClassPrice),
		one("low", KindI32, ClassPrice),
		one("close", KindI32, ClassPrice),
		one("totalBuyQty", KindI64, ClassQty),
		one("totalSellQty", KindI64, ClassQty),
		one("volume", KindI64, ClassQty),
	)
}

var layouts = map[Mode]*Layout{}

func register(l *Layout) { layouts[l.Mode] = l }

func init() {
	register(fixed(ModeDetail,
		one("token", KindU64, ClassValue),
		one("ltp", KindI32, ClassPrice),
		one("ltt", KindU32, ClassTime),
		one("ltq", KindI32, ClassQty),
		one("volume", KindI64, ClassQty),
		one("bidPrice", KindI32, ClassPrice),
		one("bidQty", KindI64, ClassQty),
		one("askPrice", KindI32, ClassPrice),
		one("askQty", KindI64, ClassQty),
		one("totalBuyQty", KindI64, ClassQty),
		one("totalSellQty", KindI64, ClassQty),
		one("atp", KindI32, ClassPrice),
		one("exchTs", KindU32, ClassTime),
		one("open", KindI32, ClassPrice),
		one("high", KindI32, ClassPrice),
		one("low", KindI32, ClassPrice),
		one("close", KindI32, ClassPrice),
		one("yearlyHigh", KindI32, ClassPrice),
		one("yearlyLow", KindI32, ClassPrice),
		one("lowerCircuit", KindI32, ClassPrice),
		one("upperCircuit", KindI32, ClassPrice),
		one("oi", KindI64, ClassQty),
		one("oiDayHigh", KindI64, ClassQty),
	))
	register(fixed(ModeCompact,
		one("token", KindU64, ClassValue),
		one("ltp", KindI32, ClassPrice),
		one("ltt", KindU32, ClassTime),
		one("lowerCircuit", KindI32, ClassPrice),
		one("upperCircuit", KindI32, ClassPrice),
		one("oi", KindI64, ClassQty),
		one("oiDayHigh", KindI64, ClassQty),
		one("bidPrice", KindI32, ClassPrice),
		one("askPrice", KindI32, ClassPrice),
		one("close", KindI32, ClassPrice),
	))
	register(fixed(ModeAuction,
		one("token", KindU64, ClassValue),
		one("auctionNumber", KindU16, ClassValue),
		one("auctionStatus", KindU8, ClassValue),
		one("initiatorType", KindU8, ClassValue),
		one("initiatorPrice", KindI32, ClassPrice),
		one("initiatorQty", KindI64, ClassQty),
		one("auctionPrice", KindI32, ClassPrice),
		one("auctionQty", KindI64, ClassQty),
	))
	register(snapquote(ModeFullSnapquote, 10))
	register(snapquote(ModeTbtSnapquote, 20))
	register(fixed(ModeSpread,
		one("token", KindU64, ClassValue),
		one("leg1Token", KindU64, ClassValue),
		one("leg2Token", KindU64, ClassValue),
		one("bidPrice", KindI32, ClassPrice),
		one("bidQty", KindI64, ClassQty),
		one("askPrice", KindI32, ClassPrice),
		one("askQty", KindI64, ClassQty),
		one("ltp", KindI32, ClassPrice),
		one("ltq", KindI64, ClassQty),
		one("ltt", KindU32, ClassTime),
		one("open", KindI32, ClassPrice),
		one("high", KindI32, ClassPrice),
		one("low", KindI32, ClassPrice),
		one("close", KindI32, ClassPrice),
		one("pricePrecision", KindU8, ClassPrecision),
	))
	register(fixed(ModeMarketStatus,
		one("marketType", KindU16, ClassValue),
		one("status", KindU16, ClassValue),
	))
	l := fixed(ModeExchangeMessage,
		one("ts", KindU32, ClassTime),
		one("length", KindU16, ClassLength),
	)
	l.Body = BodyText
	register(l)
	register(fixed(ModeGreeks,
		one("token", KindU64, ClassValue),
		one("delta", KindI64, ClassGreek),
		one("gamma", KindI64, ClassGreek),
		one("vega", KindI64, ClassGreek),
		one("rho", KindI64, ClassGreek),
		one("theta", KindI64, ClassGreek),
		one("iv", KindI64, ClassGreek),
		one("ts", KindU32, ClassTime),
	))
	register(fixed(ModeMarkup,
		one("token", KindU64, ClassValue),
		one("ltp", KindI32, ClassPrice),
		one("close", KindI32, ClassPrice),
		one("bidPrice", KindI32, ClassPrice),
		one("askPrice", KindI32, ClassPrice),
		one("markupBid", KindI32, ClassPrice),
		one("markupAsk", KindI32, ClassPrice),
		one("ltt", KindU32, ClassTime),
		one("pricePrecision", KindU8, ClassPrecision),
	))
	for _, m := range []Mode{
		ModeOrderUpdate, ModeTradeUpdate, ModePositionUpdate,
		ModeFundsUpdate, ModeMarginUpdate, ModeHoldingUpdate,
	} {
		register(jsonBody(m))
	}
}

// LayoutFor returns the layout of mode.
func LayoutFor(m Mode) (*Layout, bool) {
	l, ok := layouts[m]
	return l, ok
}
