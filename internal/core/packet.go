// Package core defines core data structures with zero external dependencies.
package core

// Protocol is the transport tag assigned to a captured frame.
type Protocol uint8

const (
	ProtocolOther Protocol = iota
	ProtocolTCP
	ProtocolUDP
)

// String returns the tag value written to the time-series sink.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return "OTHER"
	}
}

// PacketRecord is the telemetry kept for one captured frame.
//
// Protocol never leaves the process: the JSON and binary encodings carry only
// the timestamp and the wire length.
type PacketRecord struct {
	TimestampNanos int64    `json:"timestamp"`
	WireLength     uint32   `json:"value"`
	Protocol       Protocol `json:"-"`
}

// Batch is an ordered, non-empty group of records flushed together.
// A Batch is never mutated once handed downstream.
type Batch []PacketRecord
