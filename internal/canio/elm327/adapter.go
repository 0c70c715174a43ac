// Package elm327 drives a stream-based ELM327 AT-command adapter as a
// canio.Backend, standing in for the on-chip CAN controller when the
// telemetry engine talks to the vehicle over a Wi-Fi or serial OBD-II
// dongle instead of a built-in transceiver.
package elm327

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
)

type headerSize int

const (
	headerUndef headerSize = iota
	header11
	header29
)

// initCommands is the adapter bring-up sequence, issued in order every time
// the link (re)connects.
var initCommands = []string{
	"ATZ",          // reset
	"ATE0",         // disable echo
	"ATCAF0",       // no auto formatting, we want raw bytes
	"ATCFC1",       // adapter handles flow control, we ignore FC frames
	"ATM0",         // don't persist protocol changes
	"ATL0",         // no trailing linefeed
	"ATH0",         // no header in responses
	"ATS1",         // spaces between data bytes, required by the parser
	"ATST7D",       // 500ms adapter-side timeout
	"ATFCSH710",    // placeholder flow control header
	"ATFCSD300000", // flow control response bytes
	"ATFCSM1",      // enable custom flow control response
}

// Adapter is the canio.Backend realization of the ELM327 driver: per-request
// handshake (protocol/header/filter commands) followed by the data bytes,
// with response lines delivered back as canio.Frame values.
type Adapter struct {
	link           StreamLink
	requestTimeout time.Duration

	mu             sync.Mutex
	connected      bool
	prevHeaderSize headerSize
	prevReqID      uint32
	prevRspID      uint32
	bitrate500k    bool
	version        string
	isV15          bool

	decoder  *lineDecoder
	done     chan feedResult
	rx       chan canio.Frame
	errCh    chan canio.ErrorKind
}

// Config carries the fields New needs beyond the link itself.
type Config struct {
	RequestTimeout time.Duration // applied to AT commands and data requests alike
	Bitrate500k    bool
}

// New builds an adapter over the given link. The link is not opened until
// Start is called.
func New(link StreamLink, cfg Config) *Adapter {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Adapter{
		link: link,
		// Multiplied to accommodate both link latency and the adapter's
		// own processing time, the way the firmware scales its configured
		// request timeout for every AT command and data request alike
		// (see the design notes on why this stays a single factor).
		requestTimeout: timeout * 10,
		bitrate500k:    cfg.Bitrate500k,
		decoder:        newLineDecoder(),
		done:           make(chan feedResult, 1),
		rx:             make(chan canio.Frame, canio.RxChannelBufferSize),
		errCh:          make(chan canio.ErrorKind, canio.ErrorChannelBufferSize),
	}
}

func (a *Adapter) Start(ctx context.Context) error {
	if err := a.link.Open(ctx); err != nil {
		return err
	}
	go a.readLoop(ctx)
	return a.initialize(ctx)
}

func (a *Adapter) initialize(ctx context.Context) error {
	for _, cmd := range initCommands {
		ok, err := a.txString(ctx, txModeATCmd, cmd)
		if err != nil {
			return fmt.Errorf("elm327: init %q: %w", cmd, err)
		}
		if !ok {
			return fmt.Errorf("elm327: init command rejected: %q", cmd)
		}
	}

	a.mu.Lock()
	a.connected = true
	a.isV15 = a.version == "1.5"
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Stop() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return a.link.Close()
}

func (a *Adapter) RxChan() <-chan canio.Frame     { return a.rx }
func (a *Adapter) Errors() <-chan canio.ErrorKind { return a.errCh }

// Write performs the per-request handshake (protocol width, request header,
// flow control header, response filter — only reissued when they change
// from the previous request) followed by the data bytes themselves, mapping
// directly onto _can_driver_elm327_tx_packet.
func (a *Adapter) Write(ctx context.Context, f canio.Frame) error {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return canio.ErrNotConnected
	}

	reqID := f.ID
	rspID := f.ResponseID
	data := f.Data

	curHeader := header11
	if reqID > 0x7FF {
		curHeader = header29
	}

	a.mu.Lock()
	prevHeader := a.prevHeaderSize
	prevReq := a.prevReqID
	prevRsp := a.prevRspID
	bitrate500k := a.bitrate500k
	v15 := a.isV15
	a.mu.Unlock()

	if prevHeader == headerUndef || prevHeader != curHeader {
		cmd := protocolCommand(curHeader, bitrate500k)
		if ok, err := a.txString(ctx, txModeATCmd, cmd); err != nil || !ok {
			return handshakeErr(cmd, ok, err)
		}
		a.setHeaderSize(curHeader)
	}

	if reqID != prevReq {
		if v15 && curHeader == header29 {
			cmd := fmt.Sprintf("ATCP%X", reqID>>24)
			if ok, err := a.txString(ctx, txModeATCmd, cmd); err != nil || !ok {
				return handshakeErr(cmd, ok, err)
			}
			cmd = fmt.Sprintf("ATSH%X", reqID&0xFFFFFF)
			if ok, err := a.txString(ctx, txModeATCmd, cmd); err != nil || !ok {
				return handshakeErr(cmd, ok, err)
			}
		} else {
			cmd := fmt.Sprintf("ATSH%X", reqID)
			if ok, err := a.txString(ctx, txModeATCmd, cmd); err != nil || !ok {
				return handshakeErr(cmd, ok, err)
			}
		}

		cmd := fmt.Sprintf("ATFCSH%X", reqID)
		if ok, err := a.txString(ctx, txModeATCmd, cmd); err != nil || !ok {
			return handshakeErr(cmd, ok, err)
		}
		a.setReqID(reqID)
	}

	if rspID != prevRsp {
		cmd := fmt.Sprintf("ATCRA%X", rspID)
		if ok, err := a.txString(ctx, txModeATCmd, cmd); err != nil || !ok {
			return handshakeErr(cmd, ok, err)
		}
		a.setRspID(rspID)
	}

	if v15 {
		// Strip trailing zero bytes; some cheap clones choke on them.
		n := len(data)
		for n > 0 && data[n-1] == 0 {
			n--
		}
		data = data[:n]
	}

	ok, err := a.txString(ctx, txModeReqPkt, encodeHex(data))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("elm327: request rejected (no data)")
	}
	return nil
}

func protocolCommand(h headerSize, bitrate500k bool) string {
	switch {
	case h == header11 && bitrate500k:
		return "ATTP6"
	case h == header11:
		return "ATTP8"
	case bitrate500k:
		return "ATTP7"
	default:
		return "ATTP9"
	}
}

func handshakeErr(cmd string, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("elm327: %s: %w", cmd, err)
	}
	return fmt.Errorf("elm327: %s rejected", cmd)
}

func (a *Adapter) setHeaderSize(h headerSize) { a.mu.Lock(); a.prevHeaderSize = h; a.mu.Unlock() }
func (a *Adapter) setReqID(id uint32)         { a.mu.Lock(); a.prevReqID = id; a.mu.Unlock() }
func (a *Adapter) setRspID(id uint32)         { a.mu.Lock(); a.prevRspID = id; a.mu.Unlock() }

// txString issues one line and blocks until the adapter's '>' prompt ends
// the response or the request timeout elapses — a channel-and-timer wait,
// not a polling spin, per the design notes' re-architecture of the
// firmware's 10ms poll loop.
func (a *Adapter) txString(ctx context.Context, mode txMode, line string) (bool, error) {
	a.decoder.begin(mode)

	if err := a.link.WriteLine(line); err != nil {
		return false, err
	}

	timer := time.NewTimer(a.requestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		select {
		case a.errCh <- canio.ErrorTimeout:
		default:
		}
		return false, fmt.Errorf("elm327: timeout waiting for %q", line)
	case r := <-a.done:
		if mode == txModeATCmd && r.ok {
			a.mu.Lock()
			if a.decoder.version.String() != "" {
				a.version = a.decoder.version.String()
			}
			a.mu.Unlock()
		}
		return r.ok, nil
	}
}

// readLoop feeds every byte the link delivers through the line decoder,
// forwarding completed data lines as Frames immediately (so a multi-line
// response reassembles up in the ISO-TP layer exactly as it would off the
// on-chip controller) and completed responses to whichever txString call is
// waiting. RxChan is closed when the loop ends.
func (a *Adapter) readLoop(ctx context.Context) {
	defer close(a.rx)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-a.link.Bytes():
			if !ok {
				select {
				case a.errCh <- canio.ErrorLinkLost:
				default:
				}
				return
			}
			for _, c := range chunk {
				r := a.decoder.feed(c)
				if r.dataLine != nil {
					a.mu.Lock()
					rspID := a.prevRspID
					a.mu.Unlock()
					frame := canio.Frame{ID: rspID, Data: r.dataLine}
					select {
					case a.rx <- frame:
					default:
					}
				}
				if r.promptDone {
					select {
					case a.done <- r:
					default:
					}
				}
			}
		}
	}
}
