package message

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/pktstream/internal/core"
)

// RecordSize is the encoded size of one reading: an 8-byte little-endian
// signed timestamp followed by a 4-byte little-endian unsigned value.
const RecordSize = 12

// AppendRecord appends the 12-byte encoding of one reading to dst.
func AppendRecord(dst []byte, timestamp int64, value uint32) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(timestamp))
	return binary.LittleEndian.AppendUint32(dst, value)
}

// EncodeBatch encodes readings back to back with no length prefix.
// The frame length is always RecordSize * len(readings).
func EncodeBatch(readings core.Batch) []byte {
	buf := make([]byte, 0, len(readings)*RecordSize)
	for _, r := range readings {
		buf = AppendRecord(buf, r.TimestampNanos, r.WireLength)
	}
	return buf
}

// EncodeData encodes a single reading as a 12-byte frame.
func EncodeData(d Data) []byte {
	return AppendRecord(make([]byte, 0, RecordSize), d.Timestamp, d.Value)
}

// EncodeBinary returns the binary frame for Batch and Data messages.
// ok is false for messages that travel as text (Signal).
func EncodeBinary(msg Message) (frame []byte, ok bool) {
	switch m := msg.(type) {
	case Batch:
		return EncodeBatch(m.Readings), true
	case Data:
		return EncodeData(m), true
	default:
		return nil, false
	}
}

// DecodeRecords splits a binary frame into readings. The record count is
// derived from the frame length.
func DecodeRecords(frame []byte) ([]Data, error) {
	if len(frame)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", core.ErrFrameLength, len(frame))
	}
	out := make([]Data, 0, len(frame)/RecordSize)
	for off := 0; off < len(frame); off += RecordSize {
		out = append(out, Data{
			Timestamp: int64(binary.LittleEndian.Uint64(frame[off : off+8])),
			Value:     binary.LittleEndian.Uint32(frame[off+8 : off+RecordSize]),
		})
	}
	return out, nil
}
