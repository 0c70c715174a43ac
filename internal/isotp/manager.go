// Package isotp implements the simplified ISO-TP (ISO 15765-2) reassembly
// this telemetry engine actually needs: at most one outstanding
// request/response exchange at a time, with the manager acting as both the
// requester and the flow-control sender for the ECU's multi-frame replies.
// It is deliberately not a general bidirectional ISO-TP stack — there is no
// outgoing segmentation and no flow-control *receiver* role, because this
// engine never sends more than a single CAN frame of request data.
package isotp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
)

// PCI (protocol control information) high-nibble frame types.
const (
	pciSingleFrame      = 0x00
	pciFirstFrame       = 0x10
	pciConsecutiveFrame = 0x20
	pciFlowControl      = 0x30
)

// noMoreFrames is the sentinel used to invalidate a reassembly in progress
// (a malformed or truncated first frame). It is deliberately wider than the
// 4-bit consecutive-frame sequence number it's compared against (8 bits),
// so it can never collide with a real sequence value even though the
// comparison itself is width-dependent.
const noMoreFrames = 0xFF

// flowControlPayload is the fixed "clear to send, no block size limit, no
// separation time" flow control frame this manager always sends — it never
// throttles the ECU, matching the embedded target's simplified role.
var flowControlPayload = []byte{0x30, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

var (
	// ErrBusy is returned by Request when another request is already
	// outstanding; the manager enforces the single-outstanding-request
	// invariant itself rather than trusting callers to serialize.
	ErrBusy = errors.New("isotp: request already in flight")
	// ErrTimeout is returned when no complete response arrives within the
	// configured timeout.
	ErrTimeout = errors.New("isotp: response timeout")
	// ErrPayloadTooLarge is returned by Request for a payload that doesn't
	// fit an ISO-TP single frame — this manager only ever originates
	// requests, never multi-frame ones, matching the embedded target's UDS
	// requests which are always a handful of bytes.
	ErrPayloadTooLarge = errors.New("isotp: request payload exceeds a single frame")
)

// singleFrame wraps a UDS request payload in an ISO-TP single-frame PCI
// byte (the low nibble carries the length) and pads to a full 8-byte CAN
// frame, matching the static request catalogues' literal framed bytes.
func singleFrame(payload []byte) ([]byte, error) {
	if len(payload) > 7 {
		return nil, ErrPayloadTooLarge
	}
	frame := make([]byte, 8)
	frame[0] = pciSingleFrame | byte(len(payload))
	copy(frame[1:], payload)
	return frame, nil
}

type reassembleResult struct {
	data []byte
	err  error
}

// Manager owns the single outstanding-request reassembly state machine over
// one canio.Backend.
type Manager struct {
	backend canio.Backend
	timeout time.Duration

	reqMu sync.Mutex // serializes Request calls; only one in flight

	mu        sync.Mutex
	active    bool
	expectRsp uint32
	reqID     uint32
	seqNum    int
	totalLen  int
	buf       []byte
	result    chan reassembleResult
}

// NewManager builds a reassembly manager driving the given backend, with
// the default per-request timeout used when a response never arrives.
func NewManager(backend canio.Backend, timeout time.Duration) *Manager {
	return &Manager{
		backend: backend,
		timeout: timeout,
		result:  make(chan reassembleResult, 1),
	}
}

// Run drains the backend's receive channel until ctx is cancelled or the
// backend closes it. It must run on its own goroutine for the lifetime of
// the Manager.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-m.backend.RxChan():
			if !ok {
				return
			}
			m.handleFrame(ctx, f)
		}
	}
}

// Request transmits one UDS payload addressed to reqID and blocks until the
// full response from rspID reassembles, the request times out, or ctx is
// cancelled. Only one Request may be in flight at a time; a call made while
// another is outstanding returns ErrBusy without transmitting.
func (m *Manager) Request(ctx context.Context, reqID, rspID uint32, payload []byte) ([]byte, error) {
	if !m.reqMu.TryLock() {
		return nil, ErrBusy
	}
	defer m.reqMu.Unlock()

	m.mu.Lock()
	m.active = true
	m.expectRsp = rspID
	m.reqID = reqID
	m.seqNum = 0
	m.totalLen = 0
	m.buf = m.buf[:0]
	m.mu.Unlock()

	frameData, err := singleFrame(payload)
	if err != nil {
		m.clearActive()
		return nil, err
	}
	if err := m.backend.Write(ctx, canio.Frame{ID: reqID, Extended: reqID > 0x7FF, ResponseID: rspID, Data: frameData}); err != nil {
		m.clearActive()
		return nil, err
	}

	timeout := m.timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		m.clearActive()
		return nil, ctx.Err()
	case <-timer.C:
		m.clearActive()
		return nil, ErrTimeout
	case r := <-m.result:
		return r.data, r.err
	}
}

func (m *Manager) clearActive() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

func (m *Manager) handleFrame(ctx context.Context, f canio.Frame) {
	m.mu.Lock()
	if !m.active || f.ID != m.expectRsp {
		m.mu.Unlock()
		return
	}
	data := f.Data
	if len(data) == 0 {
		m.mu.Unlock()
		return
	}

	switch data[0] & 0xF0 {
	case pciSingleFrame:
		n := int(data[0] & 0x0F)
		if len(data) < 1+n {
			m.seqNum = noMoreFrames
			m.mu.Unlock()
			return
		}
		payload := append([]byte(nil), data[1:1+n]...)
		m.deliverLocked(payload, nil)
		m.mu.Unlock()

	case pciFirstFrame:
		if len(data) < 2 {
			// Malformed first frame: invalidate the sequence tracker so a
			// stray later consecutive frame can't be mistaken for part of
			// this exchange.
			m.seqNum = noMoreFrames
			m.mu.Unlock()
			return
		}
		total := (int(data[0]&0x0F) << 8) | int(data[1])
		m.totalLen = total
		m.seqNum = 1
		m.buf = append(m.buf[:0], data[2:]...)
		reqID := m.reqID
		if len(m.buf) >= m.totalLen {
			payload := append([]byte(nil), m.buf[:m.totalLen]...)
			m.deliverLocked(payload, nil)
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		if reqID != 0 {
			m.sendFlowControl(ctx, reqID)
		}

	case pciConsecutiveFrame:
		seq := int(data[0] & 0x0F)
		if seq != m.seqNum {
			m.mu.Unlock()
			return
		}
		remaining := m.totalLen - len(m.buf)
		chunk := data[1:]
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		m.buf = append(m.buf, chunk...)
		m.seqNum = (m.seqNum + 1) % 16
		if len(m.buf) >= m.totalLen {
			payload := append([]byte(nil), m.buf[:m.totalLen]...)
			m.deliverLocked(payload, nil)
		}
		m.mu.Unlock()

	default:
		m.mu.Unlock()
	}
}

// deliverLocked must be called with m.mu held; it hands the reassembled
// payload to the waiting Request call exactly once.
func (m *Manager) deliverLocked(data []byte, err error) {
	m.active = false
	select {
	case m.result <- reassembleResult{data: data, err: err}:
	default:
	}
}

func (m *Manager) sendFlowControl(ctx context.Context, reqID uint32) {
	_ = m.backend.Write(ctx, canio.Frame{ID: reqID, Extended: reqID > 0x7FF, Data: flowControlPayload})
}
