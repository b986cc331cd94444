package packet_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/internal/packet"
)

func TestMinLen(t *testing.T) {
	tests := []struct {
		mode packet.Mode
		want int
	}{
		{packet.ModeDetail, 126},
		{packet.ModeCompact, 54},
		{packet.ModeAuction, 38},
		{packet.ModeFullSnapquote, 2 + 8 + 10*(4+8+4+4+8+4) + 5*4 + 3*8},
		{packet.ModeTbtSnapquote, 2 + 8 + 20*(4+8+4+4+8+4) + 5*4 + 3*8},
		{packet.ModeMarketStatus, 6},
		{packet.ModeExchangeMessage, 8},
		{packet.ModeGreeks, 62},
		{packet.ModeOrderUpdate, 1},
	}
	for _, tt := range tests {
		l, ok := packet.LayoutFor(tt.mode)
		require.True(t, ok)
		assert.Equal(t, tt.want, l.MinLen, "mode %d", tt.mode)
	}
}

func TestEveryModeHasLayout(t *testing.T) {
	for _, info := range packet.Infos() {
		l, ok := packet.LayoutFor(info.Mode)
		require.True(t, ok, "mode %d", info.Mode)
		assert.Equal(t, info.Type, l.Type)
	}
}

// Detail frame built by hand so offsets are checked independently of Encode.
func TestDecode_DetailOffsets(t *testing.T) {
	buf := make([]byte, 126)
	buf[0] = 1
	buf[1] = 1
	binary.BigEndian.PutUint64(buf[2:], 3045)
	binary.BigEndian.PutUint32(buf[10:], 374550)
	binary.BigEndian.PutUint32(buf[14:], 1700000000)
	binary.BigEndian.PutUint64(buf[22:], 987654)
	binary.BigEndian.PutUint32(buf[90:], 370000)
	binary.BigEndian.PutUint64(buf[118:], 42)

	topic, rec, err := packet.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, packet.Topic("DetailMarketDataMessage/1/3045"), topic)
	assert.Equal(t, int64(3045), rec.Token)
	assert.Equal(t, 1, rec.Exchange)
	assert.Equal(t, int64(374550), rec.Value("ltp"))
	assert.Equal(t, int64(1700000000), rec.Value("ltt"))
	assert.Equal(t, int64(987654), rec.Value("volume"))
	assert.Equal(t, int64(370000), rec.Value("close"))
	assert.Equal(t, int64(42), rec.Value("oiDayHigh"))
	assert.False(t, rec.Clamped)
}

func TestDecode_SignedPrice(t *testing.T) {
	buf := make([]byte, 54)
	buf[0] = 2
	buf[1] = 2
	binary.BigEndian.PutUint32(buf[10:], uint32(0xFFFFFFFF)) // -1
	_, rec, err := packet.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), rec.Value("ltp"))
}

func TestDecode_Totality(t *testing.T) {
	for _, info := range packet.Infos() {
		l, _ := packet.LayoutFor(info.Mode)
		if l.Body == packet.BodyJSON {
			continue
		}
		t.Run(string(info.Type), func(t *testing.T) {
			buf := make([]byte, l.MinLen)
			buf[0] = byte(info.Mode)
			buf[1] = 1
			_, rec, err := packet.Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, info.Type, rec.Type)

			for n := 1; n < l.MinLen; n++ {
				_, rec, err := packet.Decode(buf[:n])
				require.Error(t, err)
				assert.True(t, errors.Is(err, packet.ErrShortBuffer))
				var de *packet.DecodeError
				require.ErrorAs(t, err, &de)
				assert.Equal(t, l.MinLen, de.Need)
				assert.Equal(t, n, de.Len)
				assert.Equal(t, info.Type, rec.Type)
				assert.Zero(t, rec.Token)
			}
		})
	}
}

func TestDecode_EmptyAndUnknown(t *testing.T) {
	_, _, err := packet.Decode(nil)
	assert.ErrorIs(t, err, packet.ErrShortBuffer)

	_, rec, err := packet.Decode([]byte{99, 0, 0})
	assert.ErrorIs(t, err, packet.ErrUnknownMode)
	assert.Equal(t, packet.Mode(99), rec.Mode)

	_, _, err = packet.Decode([]byte{0xFF})
	assert.ErrorIs(t, err, packet.ErrUnknownMode)
}

func TestDecode_ClampedToken(t *testing.T) {
	buf := make([]byte, 54)
	buf[0] = 2
	buf[1] = 1
	binary.BigEndian.PutUint64(buf[2:], math.MaxUint64)
	topic, rec, err := packet.Decode(buf)
	require.NoError(t, err)
	assert.True(t, rec.Clamped)
	assert.Equal(t, int64(math.MaxInt64), rec.Token)
	assert.Equal(t, packet.Topic("CompactMarketDataMessage/1/9223372036854775807"), topic)
}

func TestDecode_ExchangeMessage(t *testing.T) {
	frame, err := packet.Encode(packet.Record{
		Mode: packet.ModeExchangeMessage, Exchange: 6,
		Values: map[string]int64{"ts": 1700000000},
		Text:   "market closes early",
	})
	require.NoError(t, err)

	topic, rec, err := packet.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, packet.Topic("ExchangeMessage/6"), topic)
	assert.Equal(t, "market closes early", rec.Text)
	assert.Equal(t, int64(len("market closes early")), rec.Value("length"))

	// declared length beyond the buffer
	_, _, err = packet.Decode(frame[:len(frame)-1])
	var de *packet.DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, packet.ErrShortBuffer)
	assert.Equal(t, len(frame), de.Need)
}

func TestDecode_MarketStatus(t *testing.T) {
	buf := []byte{9, 4, 0, 1, 0, 2}
	topic, rec, err := packet.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, packet.Topic("MarketStatusMessage/4"), topic)
	assert.Equal(t, int64(1), rec.Value("marketType"))
	assert.Equal(t, int64(2), rec.Value("status"))
}

func TestDecode_AccountJSON(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		topic   packet.Topic
		wantErr error
	}{
		{"order", append([]byte{11}, `{"order_id":"A1","status":"complete"}`...), "OrderUpdateMessage", nil},
		{"funds", append([]byte{51}, `{"available":100}`...), "FundsUpdateMessage", nil},
		{"holding", append([]byte{58}, `{}`...), "HoldingUpdateMessage", nil},
		{"bad json", append([]byte{12}, `{"x":`...), "", packet.ErrMalformedBody},
		{"empty body", []byte{50}, "", packet.ErrMalformedBody},
		{"null body", append([]byte{56}, `null`...), "", packet.ErrMalformedBody},
		{"array body", append([]byte{56}, `[1]`...), "", packet.ErrMalformedBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic, rec, err := packet.Decode(tt.frame)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.topic, topic)
			assert.NotNil(t, rec.Body)
		})
	}
}

func TestEncodeDecode_Snapquote(t *testing.T) {
	bids := make([]int64, 20)
	for i := range bids {
		bids[i] = int64(100000 - i*5)
	}
	frame, err := packet.Encode(packet.Record{
		Mode: packet.ModeTbtSnapquote, Exchange: 2, Token: 35001,
		Levels: map[string][]int64{"bidPrices": bids},
		Values: map[string]int64{"volume": 7, "close": 99000},
	})
	require.NoError(t, err)

	l, _ := packet.LayoutFor(packet.ModeTbtSnapquote)
	assert.Len(t, frame, l.MinLen)

	topic, rec, err := packet.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, packet.Topic("TbtSnapquoteMessage/2/35001"), topic)
	assert.Equal(t, bids, rec.Levels["bidPrices"])
	assert.Len(t, rec.Levels["askQty"], 20)
	assert.Equal(t, int64(7), rec.Value("volume"))
	assert.Equal(t, int64(99000), rec.Value("close"))
}

func TestEncode_UnknownMode(t *testing.T) {
	_, err := packet.Encode(packet.Record{Mode: 77})
	assert.ErrorIs(t, err, packet.ErrUnknownMode)
}

func TestTopicDeterminism(t *testing.T) {
	a := packet.InstrumentTopic(packet.TypeDetail, 1, 3045)
	b := packet.InstrumentTopic(packet.TypeDetail, 1, 3045)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, packet.InstrumentTopic(packet.TypeDetail, 2, 3045))
	assert.NotEqual(t, a, packet.InstrumentTopic(packet.TypeCompact, 1, 3045))

	info, _ := packet.InfoForType(packet.TypeTradeUpdate)
	assert.Equal(t, packet.Topic("TradeUpdateMessage"), packet.TopicFor(info, 5, 9))
	info, _ = packet.InfoForType(packet.TypeExchangeMessage)
	assert.Equal(t, packet.Topic("ExchangeMessage/5"), packet.TopicFor(info, 5, 9))
}
