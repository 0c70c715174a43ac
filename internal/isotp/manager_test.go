package isotp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
)

// fakeBackend is an in-memory canio.Backend: Write records the frame and
// each test's goroutine feeds canned responses onto the rx channel.
type fakeBackend struct {
	rx      chan canio.Frame
	errCh   chan canio.ErrorKind
	written chan canio.Frame
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rx:      make(chan canio.Frame, 16),
		errCh:   make(chan canio.ErrorKind, 4),
		written: make(chan canio.Frame, 16),
	}
}

func (b *fakeBackend) Start(ctx context.Context) error { return nil }
func (b *fakeBackend) Stop() error                      { return nil }
func (b *fakeBackend) Write(ctx context.Context, f canio.Frame) error {
	b.written <- f
	return nil
}
func (b *fakeBackend) RxChan() <-chan canio.Frame     { return b.rx }
func (b *fakeBackend) Errors() <-chan canio.ErrorKind { return b.errCh }

func TestManagerSingleFrameResponse(t *testing.T) {
	backend := newFakeBackend()
	m := NewManager(backend, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	go func() {
		<-backend.written
		backend.rx <- canio.Frame{ID: 0x79A, Data: []byte{0x03, 0x62, 0xF1, 0x90}}
	}()

	data, err := m.Request(ctx, 0x797, 0x79A, []byte{0x22, 0xF1, 0x90})
	require.NoError(t, err)
	require.Equal(t, []byte{0x62, 0xF1, 0x90}, data)
}

func TestManagerMultiFrameResponseSendsFlowControl(t *testing.T) {
	backend := newFakeBackend()
	m := NewManager(backend, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	go func() {
		<-backend.written // the initial request
		// First frame: total length 10, 6 bytes of payload.
		backend.rx <- canio.Frame{ID: 0x7BB, Data: []byte{0x10, 0x0A, 0x61, 0x01, 0x02, 0x03, 0x04, 0x05}}

		fc := <-backend.written
		require.Equal(t, []byte{0x30, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, fc.Data)

		backend.rx <- canio.Frame{ID: 0x7BB, Data: []byte{0x21, 0x06, 0x07, 0x08, 0x09}}
	}()

	data, err := m.Request(ctx, 0x79B, 0x7BB, []byte{0x21, 0x01})
	require.NoError(t, err)
	require.Equal(t, []byte{0x61, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}, data)
}

func TestManagerIgnoresFramesFromOtherIDs(t *testing.T) {
	backend := newFakeBackend()
	m := NewManager(backend, 80*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	go func() {
		<-backend.written
		backend.rx <- canio.Frame{ID: 0x123, Data: []byte{0x02, 0x11, 0x22}}
	}()

	_, err := m.Request(ctx, 0x797, 0x79A, []byte{0x22, 0xF1, 0x90})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestManagerRejectsConcurrentRequests(t *testing.T) {
	backend := newFakeBackend()
	m := NewManager(backend, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	done := make(chan struct{})
	go func() {
		_, _ = m.Request(ctx, 0x797, 0x79A, []byte{0x22, 0xF1, 0x90})
		close(done)
	}()

	// Give the first request a moment to claim reqMu, then check that a
	// second request is turned away before we send the first one's
	// response and let it complete.
	time.Sleep(20 * time.Millisecond)
	<-backend.written
	_, err := m.Request(ctx, 0x797, 0x79A, []byte{0x22, 0xF1, 0x91})
	require.ErrorIs(t, err, ErrBusy)
	backend.rx <- canio.Frame{ID: 0x79A, Data: []byte{0x02, 0x62, 0xF1}}
	<-done
}
