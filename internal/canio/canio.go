// Package canio defines the transport abstraction the rest of the telemetry
// engine talks to: a single Frame type and a Backend interface that every
// concrete CAN link (on-chip controller, ELM327 adapter, bench interface)
// implements identically.
package canio

import (
	"context"
	"errors"
	"fmt"
)

// Kind names a concrete Backend; the values match the daemon's --backend
// strings. This package has no constructor keyed on Kind or Config: the
// daemon's buildBackend picks the backend from its own configuration.
type Kind string

const (
	KindSocketCAN Kind = "socketcan"
	KindELM327TCP Kind = "elm327-tcp"
	KindELM327USB Kind = "elm327-usb"
	KindELM327BLE Kind = "elm327-ble"
	KindBenchPCAN Kind = "bench-pcan"
)

// Frame is the data-model Frame: one CAN/CAN-FD message crossing the
// transport boundary in either direction.
type Frame struct {
	ID       uint32 // arbitration ID, 11-bit or 29-bit
	Extended bool   // 29-bit identifier
	FD       bool
	Data     []byte // 0-8 bytes (classic) or up to 64 (FD)

	// ResponseID is the CAN ID a transmitted Frame expects its reply on.
	// SocketCAN-style backends ignore it (filtering happens above this
	// layer); the ELM327 adapter uses it to program its ATCRA response
	// filter before sending, since it has no other way to scope a raw
	// serial/BLE link's next response to one request.
	ResponseID uint32
}

func (f Frame) String() string {
	return fmt.Sprintf("ID=0x%03X Ext=%v Data=% 02X", f.ID, f.Extended, f.Data)
}

// ErrorKind is the single coarse error classification the transport boundary
// exposes upward; richer causes are logged, not propagated, per the design's
// error handling model.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorTimeout
	ErrorBusOff
	ErrorLinkLost
)

var (
	ErrNotConnected = errors.New("canio: backend not connected")
	ErrClosed       = errors.New("canio: backend closed")
)

// Backend is the transport abstraction every concrete link implements. A
// Backend owns exactly one physical or virtual CAN link; it does not retry
// or reassemble — that is the ISO-TP manager's job one layer up.
type Backend interface {
	// Start connects the backend and begins delivering frames on RxChan.
	// Start must not block past initial handshake; ongoing I/O runs on an
	// internal goroutine tied to ctx.
	Start(ctx context.Context) error
	// Stop tears the backend down and closes RxChan.
	Stop() error
	// Write transmits a single frame. Write may block briefly if the
	// backend's send path is busy (e.g. ELM327 waiting on a prior command)
	// but must respect ctx cancellation.
	Write(ctx context.Context, f Frame) error
	// RxChan delivers received frames. Closed when the backend stops.
	RxChan() <-chan Frame
	// Errors delivers backend-level error classifications (bus-off, link
	// loss, timeout). Backends send without blocking, dropping a kind when
	// the buffer is full; the orchestrator does not read this channel.
	Errors() <-chan ErrorKind
}

// Config carries the fields needed to construct any Backend kind; unused
// fields for a given Kind are ignored.
type Config struct {
	Kind Kind

	// SocketCAN
	Interface string // e.g. "can0"

	// ELM327 (all link kinds)
	RequestTimeoutMS int
	FirmwareV15Quirk bool

	// ELM327 over TCP
	Host string
	Port int

	// ELM327 over serial
	SerialDevice string
	BaudRate     int

	// Bench PCAN
	Channel int
	BitrateK int
}

const (
	RxChannelBufferSize = 64
	ErrorChannelBufferSize = 8
)
