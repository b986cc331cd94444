// internal/exchange/exchange.go

// Package exchange maps exchange names and numeric codes to the price
// divisor used on the wire.
package exchange

import (
	"strconv"
	"strings"
)

// Entry describes one exchange segment.
type Entry struct {
	Name    string
	Code    int
	Divisor int64
}

var table = []Entry{
	{Name: "NSE", Code: 1, Divisor: 100},
	{Name: "NFO", Code: 2, Divisor: 100},
	{Name: "CDS", Code: 3, Divisor: 10000000},
	{Name: "MCX", Code: 4, Divisor: 100},
	{Name: "NCDEX", Code: 5, Divisor: 100},
	{Name: "BSE", Code: 6, Divisor: 100},
	{Name: "BFO", Code: 7, Divisor: 100},
	{Name: "BCD", Code: 8, Divisor: 10000},
	{Name: "NCO", Code: 9, Divisor: 100},
	{Name: "BCO", Code: 10, Divisor: 100},
}

var (
	byName = make(map[string]Entry, len(table))
	byCode = make(map[int]Entry, len(table))
)

func init() {
	for _, e := range table {
		byName[e.Name] = e
		byCode[e.Code] = e
	}
}

// Default is returned for anything that does not resolve.
var Default = table[0]

// Lookup resolves a case-insensitive name or a numeric string.
func Lookup(id string) Entry {
	id = strings.TrimSpace(id)
	if e, ok := byName[strings.ToUpper(id)]; ok {
		return e
	}
	if n, err := strconv.Atoi(id); err == nil {
		return LookupCode(n)
	}
	return Default
}

// LookupCode resolves a numeric exchange code.
func LookupCode(code int) Entry {
	if e, ok := byCode[code]; ok {
		return e
	}
	return Default
}

// Resolve accepts a name, a code as any integer type, or an Entry.
func Resolve(id any) Entry {
	switch v := id.(type) {
	case string:
		return Lookup(v)
	case int:
		return LookupCode(v)
	case int8:
		return LookupCode(int(v))
	case uint8:
		return LookupCode(int(v))
	case int16:
		return LookupCode(int(v))
	case uint16:
		return LookupCode(int(v))
	case int32:
		return LookupCode(int(v))
	case uint32:
		return LookupCode(int(v))
	case int64:
		return LookupCode(int(v))
	case Entry:
		return LookupCode(v.Code)
	default:
		return Default
	}
}

// DivisorFor is shorthand for Resolve(id).Divisor.
func DivisorFor(id any) int64 { return Resolve(id).Divisor }

// CodeFor is shorthand for Resolve(id).Code.
func CodeFor(id any) int { return Resolve(id).Code }

// All returns a copy of the table in code order.
func All() []Entry {
	out := make([]Entry, len(table))
	copy(out, table)
	return out
}
