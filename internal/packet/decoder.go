// internal/packet/decoder.go
package packet

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/YaganovValera/market-feed/internal/wire"
)

var (
	ErrShortBuffer   = errors.New("packet: short buffer")
	ErrUnknownMode   = errors.New("packet: unknown mode")
	ErrMalformedBody = errors.New("packet: malformed body")
)

// DecodeError carries the frame shape that failed to decode.
type DecodeError struct {
	Mode Mode
	Len  int
	Need int
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Need > 0 {
		return fmt.Sprintf("%v: mode=%d len=%d need=%d", e.Err, e.Mode, e.Len, e.Need)
	}
	return fmt.Sprintf("%v: mode=%d len=%d", e.Err, e.Mode, e.Len)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode reads one frame. On error the topic is empty and the record is the
// zero record of the frame's mode when the mode is known.
func Decode(buf []byte) (Topic, Record, error) {
	if len(buf) == 0 {
		return "", Record{}, &DecodeError{Len: 0, Need: 1, Err: ErrShortBuffer}
	}
	mode := Mode(int8(buf[0]))
	l, ok := LayoutFor(mode)
	if !ok {
		return "", Record{Mode: mode}, &DecodeError{Mode: mode, Len: len(buf), Err: ErrUnknownMode}
	}
	if len(buf) < l.MinLen {
		return "", zeroRecord(l), &DecodeError{Mode: mode, Len: len(buf), Need: l.MinLen, Err: ErrShortBuffer}
	}

	if l.Body == BodyJSON {
		return decodeJSON(l, buf)
	}

	rec := zeroRecord(l)
	r := wire.NewReader(buf)
	rec.Exchange = int(r.Seek(1).U8())
	for _, f := range l.Fields {
		r.Seek(f.Offset)
		if f.Count > 1 {
			lv := rec.Levels[f.Name]
			for i := range lv {
				lv[i] = read(r, f.Kind, &rec.Clamped)
			}
			continue
		}
		rec.Values[f.Name] = read(r, f.Kind, &rec.Clamped)
	}
	rec.Token = rec.Values["token"]

	if l.Body == BodyText {
		n := int(rec.Values["length"])
		text := r.Seek(l.MinLen).Bytes(n)
		if r.Err() != nil {
			return "", zeroRecord(l), &DecodeError{Mode: mode, Len: len(buf), Need: l.MinLen + n, Err: ErrShortBuffer}
		}
		rec.Text = string(text)
	}
	if err := r.Err(); err != nil {
		// MinLen covers every field, so this only fires on a broken layout.
		return "", zeroRecord(l), &DecodeError{Mode: mode, Len: len(buf), Need: l.MinLen, Err: ErrShortBuffer}
	}
	return rec.Topic(), rec, nil
}

func read(r *wire.Reader, k Kind, clamped *bool) int64 {
	switch k {
	case KindU8:
		return int64(r.U8())
	case KindU16:
		return int64(r.U16())
	case KindU32:
		return int64(r.U32())
	case KindI32:
		return int64(r.I32())
	case KindI64:
		return r.I64()
	case KindU64:
		v, c := r.U64Clamped()
		if c {
			*clamped = true
		}
		return v
	default:
		return 0
	}
}

func decodeJSON(l *Layout, buf []byte) (Topic, Record, error) {
	rec := Record{Mode: l.Mode, Type: l.Type}
	var body map[string]any
	if err := json.Unmarshal(buf[1:], &body); err != nil || body == nil {
		return "", rec, &DecodeError{Mode: l.Mode, Len: len(buf), Err: ErrMalformedBody}
	}
	rec.Body = body
	return rec.Topic(), rec, nil
}
