// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// Capture errors
	ErrInterfaceNotFound = errors.New("pktstream: capture interface not found")
	ErrOpen              = errors.New("pktstream: capture handle open failed")
	ErrCaptureTimeout    = errors.New("pktstream: capture read timeout")

	// Sink errors
	ErrTimestampOverflow = errors.New("pktstream: timestamp overflows nanosecond range")

	// Codec errors
	ErrUnknownMessage = errors.New("pktstream: unknown message type")
	ErrFrameLength    = errors.New("pktstream: binary frame length is not a multiple of the record size")

	// Configuration errors
	ErrConfigInvalid = errors.New("pktstream: invalid configuration")
)

// DeviceError is a recoverable I/O failure reported by a live capture handle.
type DeviceError struct {
	Interface string
	Err       error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("pktstream: capture device %s: %v", e.Interface, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
