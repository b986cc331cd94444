// internal/packet/encoder.go
package packet

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"

	"github.com/YaganovValera/market-feed/internal/wire"
)

// Encode writes rec in the layout of rec.Mode. Missing fields encode as 0,
// Token overrides Values["token"], and the text length is taken from Text.
// It is the inverse of Decode and drives the simulator.
func Encode(rec Record) ([]byte, error) {
	l, ok := LayoutFor(rec.Mode)
	if !ok {
		return nil, fmt.Errorf("packet: encode: %w: %d", ErrUnknownMode, rec.Mode)
	}

	if l.Body == BodyJSON {
		body, err := json.Marshal(rec.Body)
		if err != nil {
			return nil, fmt.Errorf("packet: encode body: %w", err)
		}
		return append([]byte{byte(rec.Mode)}, body...), nil
	}

	if l.Body == BodyText && len(rec.Text) > math.MaxUint16 {
		return nil, fmt.Errorf("packet: encode: text longer than %d bytes", math.MaxUint16)
	}

	w := wire.NewWriter(l.MinLen + len(rec.Text))
	w.U8(uint8(rec.Mode)).U8(uint8(rec.Exchange))
	for _, f := range l.Fields {
		if f.Count > 1 {
			lv := rec.Levels[f.Name]
			for i := 0; i < f.Count; i++ {
				var v int64
				if i < len(lv) {
					v = lv[i]
				}
				write(w, f.Kind, v)
			}
			continue
		}
		v := rec.Values[f.Name]
		switch {
		case f.Name == "token":
			v = rec.Token
		case f.Class == ClassLength && l.Body == BodyText:
			v = int64(len(rec.Text))
		}
		write(w, f.Kind, v)
	}
	if l.Body == BodyText {
		w.Raw([]byte(rec.Text))
	}
	return w.Bytes(), nil
}

func write(w *wire.Writer, k Kind, v int64) {
	switch k {
	case KindU8:
		w.U8(uint8(v))
	case KindU16:
		w.U16(uint16(v))
	case KindU32:
		w.U32(uint32(v))
	case KindI32:
		w.I32(int32(v))
	case KindI64:
		w.I64(v)
	case KindU64:
		w.U64(uint64(v))
	}
}
