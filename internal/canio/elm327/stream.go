package elm327

import (
	"context"
	"fmt"
	"net"
	"time"

	serial "go.bug.st/serial"
)

// StreamLink is the stream-based sub-driver contract the ELM327 adapter
// drives: something that can accept ASCII command lines and deliver raw
// response bytes back. Wi-Fi (TCP socket) and USB/Bluetooth-SPP (virtual
// serial port) links both satisfy it; so does the in-memory fake used by
// tests.
type StreamLink interface {
	Open(ctx context.Context) error
	Close() error
	WriteLine(s string) error
	Bytes() <-chan []byte
}

// TCPLink is the Wi-Fi-socket transport named by the adapter's external
// interface: a plain TCP connection to the ELM327 Wi-Fi bridge.
type TCPLink struct {
	addr string
	conn net.Conn
	rx   chan []byte
}

func NewTCPLink(host string, port int) *TCPLink {
	return &TCPLink{addr: fmt.Sprintf("%s:%d", host, port), rx: make(chan []byte, 32)}
}

func (l *TCPLink) Open(ctx context.Context) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("elm327: dial %s: %w", l.addr, err)
	}
	l.conn = conn
	go l.readLoop()
	return nil
}

func (l *TCPLink) readLoop() {
	defer close(l.rx)
	buf := make([]byte, 256)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			l.rx <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (l *TCPLink) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

func (l *TCPLink) WriteLine(s string) error {
	_, err := l.conn.Write([]byte(s + "\r"))
	return err
}

func (l *TCPLink) Bytes() <-chan []byte { return l.rx }

// SerialLink is a USB or Bluetooth-SPP virtual serial port carrying the
// same ELM327 AT-command protocol as the Wi-Fi link.
type SerialLink struct {
	device string
	baud   int
	port   serial.Port
	rx     chan []byte
}

func NewSerialLink(device string, baud int) *SerialLink {
	if baud == 0 {
		baud = 38400
	}
	return &SerialLink{device: device, baud: baud, rx: make(chan []byte, 32)}
}

func (l *SerialLink) Open(ctx context.Context) error {
	mode := &serial.Mode{BaudRate: l.baud}
	port, err := serial.Open(l.device, mode)
	if err != nil {
		return fmt.Errorf("elm327: open %s: %w", l.device, err)
	}
	port.SetReadTimeout(200 * time.Millisecond)
	l.port = port
	go l.readLoop()
	return nil
}

func (l *SerialLink) readLoop() {
	defer close(l.rx)
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			l.rx <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (l *SerialLink) Close() error {
	if l.port == nil {
		return nil
	}
	return l.port.Close()
}

func (l *SerialLink) WriteLine(s string) error {
	_, err := l.port.Write([]byte(s + "\r"))
	return err
}

func (l *SerialLink) Bytes() <-chan []byte { return l.rx }

// PacketLink represents the BLE-notify transport: a packet-oriented link
// where each write/notify carries a handful of bytes rather than a byte
// stream. This repo is not a BLE stack, so PacketLink wraps a pair of Go
// channels — the real binding (GATT write-without-response / notify
// subscription) lives in the platform pairing layer outside this module's
// scope and forwards into these channels.
type PacketLink struct {
	out chan<- string
	in  <-chan []byte
}

// NewPacketLink wires a BLE-notify style transport from an outgoing-command
// channel and an incoming-bytes channel supplied by the platform's GATT
// client.
func NewPacketLink(out chan<- string, in <-chan []byte) *PacketLink {
	return &PacketLink{out: out, in: in}
}

func (l *PacketLink) Open(ctx context.Context) error { return nil }
func (l *PacketLink) Close() error                    { return nil }

func (l *PacketLink) WriteLine(s string) error {
	select {
	case l.out <- s:
		return nil
	default:
		return fmt.Errorf("elm327: ble write queue full")
	}
}

func (l *PacketLink) Bytes() <-chan []byte { return l.in }
