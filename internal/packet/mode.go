// internal/packet/mode.go
package packet

// Mode is the leading byte of every inbound frame.
type Mode int8

const (
	ModeDetail          Mode = 1
	ModeCompact         Mode = 2
	ModeAuction         Mode = 3
	ModeFullSnapquote   Mode = 4
	ModeSpread          Mode = 5
	ModeMarketStatus    Mode = 9
	ModeExchangeMessage Mode = 10
	ModeOrderUpdate     Mode = 11
	ModeTradeUpdate     Mode = 12
	ModeTbtSnapquote    Mode = 14
	ModeGreeks          Mode = 15
	ModeMarkup          Mode = 20
	ModePositionUpdate  Mode = 50
	ModeFundsUpdate     Mode = 51
	ModeMarginUpdate    Mode = 56
	ModeHoldingUpdate   Mode = 58
)

// MessageType names a record family. It is the first topic segment.
type MessageType string

const (
	TypeDetail          MessageType = "DetailMarketDataMessage"
	TypeCompact         MessageType = "CompactMarketDataMessage"
	TypeAuction         MessageType = "AuctionMarketDataMessage"
	TypeFullSnapquote   MessageType = "FullSnapquoteMessage"
	TypeSpread          MessageType = "SpreadMarketDataMessage"
	TypeMarketStatus    MessageType = "MarketStatusMessage"
	TypeExchangeMessage MessageType = "ExchangeMessage"
	TypeOrderUpdate     MessageType = "OrderUpdateMessage"
	TypeTradeUpdate     MessageType = "TradeUpdateMessage"
	TypeTbtSnapquote    MessageType = "TbtSnapquoteMessage"
	TypeGreeks          MessageType = "GreeksMessage"
	TypeMarkup          MessageType = "MarkupMarketDataMessage"
	TypePositionUpdate  MessageType = "PositionUpdateMessage"
	TypeFundsUpdate     MessageType = "FundsUpdateMessage"
	TypeMarginUpdate    MessageType = "MarginUpdateMessage"
	TypeHoldingUpdate   MessageType = "HoldingUpdateMessage"
)

// Scope decides how many key parts a topic carries.
type Scope uint8

const (
	// ScopeInstrument topics are Type/exchange/token.
	ScopeInstrument Scope = iota
	// ScopeExchange topics are Type/exchange.
	ScopeExchange
	// ScopeAccount topics are just Type.
	ScopeAccount
)

func (s Scope) String() string {
	switch s {
	case ScopeInstrument:
		return "instrument"
	case ScopeExchange:
		return "exchange"
	case ScopeAccount:
		return "account"
	default:
		return "unknown"
	}
}

// Info binds a mode to its message type, wire method and topic scope.
// Method is empty for feeds that are pushed without a subscription.
type Info struct {
	Mode   Mode
	Type   MessageType
	Method string
	Scope  Scope
}

var infos = []Info{
	{ModeDetail, TypeDetail, "marketdata", ScopeInstrument},
	{ModeCompact, TypeCompact, "compact_marketdata", ScopeInstrument},
	{ModeAuction, TypeAuction, "auction_marketdata", ScopeInstrument},
	{ModeFullSnapquote, TypeFullSnapquote, "full_snapquote", ScopeInstrument},
	{ModeSpread, TypeSpread, "spreaddata", ScopeInstrument},
	{ModeMarketStatus, TypeMarketStatus, "", ScopeExchange},
	{ModeExchangeMessage, TypeExchangeMessage, "exchange_messages", ScopeExchange},
	{ModeOrderUpdate, TypeOrderUpdate, "updates", ScopeAccount},
	{ModeTradeUpdate, TypeTradeUpdate, "updates", ScopeAccount},
	{ModeTbtSnapquote, TypeTbtSnapquote, "tbt_full_snapquote", ScopeInstrument},
	{ModeGreeks, TypeGreeks, "greekdata", ScopeInstrument},
	{ModeMarkup, TypeMarkup, "markup_marketdata", ScopeInstrument},
	{ModePositionUpdate, TypePositionUpdate, "position_updates", ScopeAccount},
	{ModeFundsUpdate, TypeFundsUpdate, "cash_updates", ScopeAccount},
	{ModeMarginUpdate, TypeMarginUpdate, "cash_updates", ScopeAccount},
	{ModeHoldingUpdate, TypeHoldingUpdate, "position_updates", ScopeAccount},
}

// Built as package vars so layout registration in init can rely on them.
var (
	infoByMode = indexByMode(infos)
	infoByType = indexByType(infos)
)

func indexByMode(in []Info) map[Mode]Info {
	m := make(map[Mode]Info, len(in))
	for _, i := range in {
		m[i.Mode] = i
	}
	return m
}

func indexByType(in []Info) map[MessageType]Info {
	m := make(map[MessageType]Info, len(in))
	for _, i := range in {
		m[i.Type] = i
	}
	return m
}

// InfoForMode looks up a mode.
func InfoForMode(m Mode) (Info, bool) {
	in, ok := infoByMode[m]
	return in, ok
}

// InfoForType looks up a message type.
func InfoForType(t MessageType) (Info, bool) {
	in, ok := infoByType[t]
	return in, ok
}

// Infos returns every known mode in declaration order.
func Infos() []Info {
	out := make([]Info, len(infos))
	copy(out, infos)
	return out
}
