package elm327

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
)

func frameFor(reqID, rspID uint32, data []byte) canio.Frame {
	return canio.Frame{ID: reqID, ResponseID: rspID, Data: data}
}

// fakeLink is an in-memory StreamLink: every WriteLine is matched against a
// canned script and answers with the configured response text, simulating
// the adapter hardware for tests.
type fakeLink struct {
	mu       sync.Mutex
	rx       chan []byte
	sent     []string
	response func(cmd string) string
}

func newFakeLink(response func(cmd string) string) *fakeLink {
	return &fakeLink{rx: make(chan []byte, 64), response: response}
}

func (f *fakeLink) Open(ctx context.Context) error { return nil }
func (f *fakeLink) Close() error                    { close(f.rx); return nil }

func (f *fakeLink) WriteLine(s string) error {
	f.mu.Lock()
	f.sent = append(f.sent, s)
	f.mu.Unlock()

	resp := f.response(s)
	f.rx <- []byte(resp + "\r>")
	return nil
}

func (f *fakeLink) Bytes() <-chan []byte { return f.rx }

func standardInitResponses(cmd string) string {
	if cmd == "ATZ" {
		return "ELM327 v1.5"
	}
	return "OK"
}

func TestAdapterInitializesAndDetectsVersion(t *testing.T) {
	link := newFakeLink(standardInitResponses)
	a := New(link, Config{RequestTimeout: 20 * time.Millisecond, Bitrate500k: true})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx))
	require.True(t, a.connected)
	require.Equal(t, "1.5", a.version)
	require.True(t, a.isV15)

	require.Equal(t, len(initCommands), len(link.sent))
	require.Equal(t, "ATZ", link.sent[0])
	require.Equal(t, "ATFCSM1", link.sent[len(link.sent)-1])
}

func TestAdapterWriteIssuesHandshakeThenData(t *testing.T) {
	var seen []string
	link := newFakeLink(func(cmd string) string {
		seen = append(seen, cmd)
		if cmd == "ATZ" {
			return "ELM327 v2.1"
		}
		if strings.HasPrefix(cmd, "AT") {
			return "OK"
		}
		return "62 F1 90 01 02 03" // a hex data line
	})
	a := New(link, Config{RequestTimeout: 20 * time.Millisecond, Bitrate500k: true})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Start(ctx))

	seen = nil
	err := a.Write(ctx, frameFor(0x797, 0x79A, []byte{0x22, 0xF1, 0x90}))
	require.NoError(t, err)

	require.Contains(t, seen, "ATTP6")
	require.Contains(t, seen, "ATSH797")
	require.Contains(t, seen, "ATFCSH797")
	require.Contains(t, seen, "ATCRA79A")
	require.Contains(t, seen, "22F190")

	select {
	case f := <-a.RxChan():
		require.Equal(t, uint32(0x79A), f.ID)
		require.Equal(t, []byte{0x62, 0xF1, 0x90, 0x01, 0x02, 0x03}, f.Data)
	case <-time.After(time.Second):
		t.Fatal("expected a decoded frame")
	}
}

func TestAdapterSkipsUnchangedHandshakeFields(t *testing.T) {
	var seen []string
	link := newFakeLink(func(cmd string) string {
		seen = append(seen, cmd)
		if cmd == "ATZ" {
			return "ELM327 v2.1"
		}
		if strings.HasPrefix(cmd, "AT") {
			return "OK"
		}
		return "62 F1 90 01"
	})
	a := New(link, Config{RequestTimeout: 20 * time.Millisecond, Bitrate500k: true})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.NoError(t, a.Write(ctx, frameFor(0x797, 0x79A, []byte{0x22, 0xF1, 0x90})))
	<-a.RxChan()

	seen = nil
	require.NoError(t, a.Write(ctx, frameFor(0x797, 0x79A, []byte{0x22, 0xF1, 0x91})))
	<-a.RxChan()

	require.NotContains(t, seen, "ATSH797")
	require.NotContains(t, seen, "ATCRA79A")
	require.Contains(t, seen, "22F191")
}
