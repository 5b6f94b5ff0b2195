package message

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pktstream/internal/core"
)

func TestRecordRoundTrip(t *testing.T) {
	timestamps := []int64{math.MinInt64, math.MinInt64 + 1, -1, 0, 1, 1_700_000_000_123_456_789, math.MaxInt64 - 1, math.MaxInt64}
	values := []uint32{0, 1, 1500, math.MaxUint16, math.MaxUint32 - 1, math.MaxUint32}

	for _, ts := range timestamps {
		for _, v := range values {
			frame := AppendRecord(nil, ts, v)
			require.Len(t, frame, RecordSize)

			out, err := DecodeRecords(frame)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, ts, out[0].Timestamp)
			assert.Equal(t, v, out[0].Value)
		}
	}
}

func TestRecordLayoutIsLittleEndian(t *testing.T) {
	frame := AppendRecord(nil, 0x0102030405060708, 0x0A0B0C0D)
	assert.Equal(t, []byte{
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x0D, 0x0C, 0x0B, 0x0A,
	}, frame)
}

func TestEncodeBatch_FrameLength(t *testing.T) {
	for _, k := range []int{1, 2, 64, 1000} {
		readings := make(core.Batch, k)
		for i := range readings {
			readings[i] = core.PacketRecord{TimestampNanos: int64(i), WireLength: uint32(i * 10)}
		}

		frame := EncodeBatch(readings)
		assert.Len(t, frame, RecordSize*k)

		out, err := DecodeRecords(frame)
		require.NoError(t, err)
		require.Len(t, out, k)
		for i, d := range out {
			assert.Equal(t, readings[i].TimestampNanos, d.Timestamp)
			assert.Equal(t, readings[i].WireLength, d.Value)
		}
	}
}

func TestEncodeBinary(t *testing.T) {
	frame, ok := EncodeBinary(Data{Timestamp: 5, Value: 9})
	require.True(t, ok)
	assert.Len(t, frame, RecordSize)

	frame, ok = EncodeBinary(Batch{Readings: core.Batch{{TimestampNanos: 1}, {TimestampNanos: 2}, {TimestampNanos: 3}}})
	require.True(t, ok)
	assert.Len(t, frame, 3*RecordSize)

	_, ok = EncodeBinary(NewSignal("sdp", ""))
	assert.False(t, ok)
}

func TestDecodeRecords_BadLength(t *testing.T) {
	_, err := DecodeRecords(make([]byte, 13))
	assert.True(t, errors.Is(err, core.ErrFrameLength))
}
