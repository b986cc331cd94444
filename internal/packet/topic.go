// internal/packet/topic.go
package packet

import (
	"strconv"
	"strings"
)

// Topic is the routing key shared by wire dedup and dispatch.
type Topic string

// InstrumentTopic is "Type/exchange/token".
func InstrumentTopic(t MessageType, exch int, token int64) Topic {
	var b strings.Builder
	b.Grow(len(t) + 24)
	b.WriteString(string(t))
	b.WriteByte('/')
	b.WriteString(strconv.Itoa(exch))
	b.WriteByte('/')
	b.WriteString(strconv.FormatInt(token, 10))
	return Topic(b.String())
}

// ExchangeTopic is "Type/exchange".
func ExchangeTopic(t MessageType, exch int) Topic {
	return Topic(string(t) + "/" + strconv.Itoa(exch))
}

// AccountTopic is "Type".
func AccountTopic(t MessageType) Topic { return Topic(t) }

// TopicFor picks the topic shape from the scope of info.
func TopicFor(info Info, exch int, token int64) Topic {
	switch info.Scope {
	case ScopeExchange:
		return ExchangeTopic(info.Type, exch)
	case ScopeAccount:
		return AccountTopic(info.Type)
	default:
		return InstrumentTopic(info.Type, exch, token)
	}
}
