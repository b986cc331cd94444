// internal/packet/record.go
package packet

// Record is one decoded frame. Scalar fields live in Values and per-level
// arrays in Levels, both keyed by the layout field name.
type Record struct {
	Mode     Mode
	Type     MessageType
	Exchange int
	Token    int64
	// Clamped is set when a u64 field exceeded MaxInt64.
	Clamped bool

	Values map[string]int64
	Levels map[string][]int64
	Text   string
	Body   map[string]any
}

// Value returns a scalar field or 0.
func (r Record) Value(name string) int64 { return r.Values[name] }

// Topic builds the routing key of the record.
func (r Record) Topic() Topic {
	info, ok := InfoForMode(r.Mode)
	if !ok {
		return ""
	}
	return TopicFor(info, r.Exchange, r.Token)
}

// zeroRecord returns a record of l's type with every field present and zero.
func zeroRecord(l *Layout) Record {
	rec := Record{Mode: l.Mode, Type: l.Type}
	for _, f := range l.Fields {
		if f.Count > 1 {
			if rec.Levels == nil {
				rec.Levels = make(map[string][]int64)
			}
			rec.Levels[f.Name] = make([]int64, f.Count)
			continue
		}
		if rec.Values == nil {
			rec.Values = make(map[string]int64, len(l.Fields))
		}
		rec.Values[f.Name] = 0
	}
	return rec
}
