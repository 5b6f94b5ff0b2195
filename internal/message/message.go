// Package message defines the values carried on the distribution bus and
// their two wire encodings.
package message

import "firestige.xyz/pktstream/internal/core"

// Kind is the JSON "type" discriminator.
type Kind string

const (
	KindSignal Kind = "Signal"
	KindData   Kind = "Data"
	KindBatch  Kind = "Batch"
)

// Message is one of Signal, Data or Batch.
type Message interface {
	Kind() Kind
	isMessage()
}

// Signal is an opaque connection-negotiation payload (SDP offer/answer and an
// optional ICE candidate). Its content is never interpreted.
type Signal struct {
	SDP       string  `json:"sdp"`
	Candidate *string `json:"candidate"`
}

// Data is a single reading.
type Data struct {
	Timestamp int64  `json:"timestamp"`
	Value     uint32 `json:"value"`
}

// Batch is a group of readings flushed by an aggregator.
type Batch struct {
	Readings core.Batch `json:"readings"`
}

func (Signal) Kind() Kind { return KindSignal }
func (Data) Kind() Kind   { return KindData }
func (Batch) Kind() Kind  { return KindBatch }

func (Signal) isMessage() {}
func (Data) isMessage()   {}
func (Batch) isMessage()  {}

// NewSignal builds a Signal, leaving Candidate nil when candidate is empty.
func NewSignal(sdp, candidate string) Signal {
	s := Signal{SDP: sdp}
	if candidate != "" {
		s.Candidate = &candidate
	}
	return s
}
