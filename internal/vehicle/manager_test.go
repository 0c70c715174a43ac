package vehicle

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/obdtelemetry/internal/broker"
	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
)

type fakeRequester struct {
	responses map[string][]byte // keyed by "reqID:rspID"
	errOn     string
	calls     []string
}

func key(reqID, rspID uint32) string {
	return fmt.Sprintf("%x:%x", reqID, rspID)
}

func (f *fakeRequester) Request(ctx context.Context, reqID, rspID uint32, payload []byte) ([]byte, error) {
	k := key(reqID, rspID)
	f.calls = append(f.calls, k)
	if k == f.errOn {
		return nil, context.DeadlineExceeded
	}
	return f.responses[k], nil
}

type fakeDecoder struct {
	name   string
	reqs   []RequestDescriptor
	caps   Capability
	errors []canio.ErrorKind
}

func (d *fakeDecoder) Name() string                   { return d.name }
func (d *fakeDecoder) Requests() []RequestDescriptor  { return d.reqs }
func (d *fakeDecoder) Capabilities() Capability       { return d.caps }
func (d *fakeDecoder) NoteError(kind canio.ErrorKind) { d.errors = append(d.errors, kind) }
func (d *fakeDecoder) Bitrate500k() bool              { return true }

type fakePublisher struct {
	values map[broker.Item]float64
}

func newFakePublisher() *fakePublisher { return &fakePublisher{values: map[broker.Item]float64{}} }

func (p *fakePublisher) Publish(item broker.Item, value float64) { p.values[item] = value }

func TestManagerEvalRoundRobinsAndDecodes(t *testing.T) {
	const (
		capAlways Capability = 1 << 0
	)
	reqA := RequestDescriptor{
		Name: "a", ReqID: 1, RspID: 2, Request: []byte{0x22, 0x01, 0x02}, Capability: capAlways,
		Decode: func(resp []byte, pub broker.Publisher) error {
			pub.Publish(broker.ItemHVBattV, float64(resp[3]))
			return nil
		},
	}
	reqB := RequestDescriptor{
		Name: "b", ReqID: 3, RspID: 4, Request: []byte{0x22, 0x03, 0x04}, Capability: capAlways,
		Decode: func(resp []byte, pub broker.Publisher) error {
			pub.Publish(broker.ItemSpeed, float64(resp[3]))
			return nil
		},
	}

	requester := &fakeRequester{responses: map[string][]byte{
		key(1, 2): {0x62, 0x01, 0x02, 10},
		key(3, 4): {0x62, 0x03, 0x04, 20},
	}}
	decoder := &fakeDecoder{name: "test", reqs: []RequestDescriptor{reqA, reqB}, caps: capAlways}
	pub := newFakePublisher()

	m := NewManager(requester, decoder, pub)
	require.Equal(t, 2, m.Len())

	require.NoError(t, m.Eval(context.Background()))
	require.NoError(t, m.Eval(context.Background()))

	require.Equal(t, float64(10), pub.values[broker.ItemHVBattV])
	require.Equal(t, float64(20), pub.values[broker.ItemSpeed])
	require.Equal(t, []string{key(1, 2), key(3, 4)}, requester.calls)
}

func TestManagerEvalFiltersByCapability(t *testing.T) {
	const (
		capFront Capability = 1 << 0
		capRear  Capability = 1 << 1
	)
	reqFront := RequestDescriptor{Name: "front", ReqID: 1, RspID: 2, Request: []byte{0x22, 0x01}, Capability: capFront,
		Decode: func(resp []byte, pub broker.Publisher) error { return nil }}
	reqRear := RequestDescriptor{Name: "rear", ReqID: 3, RspID: 4, Request: []byte{0x22, 0x02}, Capability: capRear,
		Decode: func(resp []byte, pub broker.Publisher) error { return nil }}

	decoder := &fakeDecoder{name: "rwd", reqs: []RequestDescriptor{reqFront, reqRear}, caps: capRear}
	m := NewManager(&fakeRequester{responses: map[string][]byte{}}, decoder, newFakePublisher())

	require.Equal(t, 1, m.Len())
}

func TestManagerSetRequestMaskCompactsToRequiredByBits(t *testing.T) {
	const (
		itemFrontTorque Capability = 1 << 0
		itemAuxKW       Capability = 1 << 1
		itemSpeed       Capability = 1 << 2
	)
	noop := func(resp []byte, pub broker.Publisher) error { return nil }
	gearPosition := RequestDescriptor{Name: "gear_position", ReqID: 1, RspID: 2, Request: []byte{0x22, 0x01}, RequiredBy: itemFrontTorque, Decode: noop}
	frontTorque := RequestDescriptor{Name: "front_torque", ReqID: 3, RspID: 4, Request: []byte{0x22, 0x02}, RequiredBy: itemFrontTorque, Decode: noop}
	auxPower := RequestDescriptor{Name: "aux_power", ReqID: 5, RspID: 6, Request: []byte{0x22, 0x03}, RequiredBy: itemAuxKW, Decode: noop}
	speed := RequestDescriptor{Name: "speed", ReqID: 7, RspID: 8, Request: []byte{0x22, 0x04}, RequiredBy: itemSpeed, Decode: noop}

	decoder := &fakeDecoder{
		name: "test",
		reqs: []RequestDescriptor{gearPosition, frontTorque, auxPower, speed},
		caps: itemFrontTorque | itemAuxKW | itemSpeed,
	}
	m := NewManager(&fakeRequester{responses: map[string][]byte{}}, decoder, newFakePublisher())
	require.Equal(t, 4, m.Len())

	m.SetRequestMask(itemAuxKW)

	m.mu.Lock()
	names := make([]string, len(m.requests))
	for i, r := range m.requests {
		names[i] = r.Name
	}
	idx := m.idx
	m.mu.Unlock()

	require.Equal(t, []string{"aux_power"}, names)
	require.Equal(t, 0, idx)
}

func TestManagerSetRequestMaskResetsRoundRobinCursor(t *testing.T) {
	const capAlways Capability = 1
	noop := func(resp []byte, pub broker.Publisher) error { return nil }
	reqA := RequestDescriptor{Name: "a", ReqID: 1, RspID: 2, Request: []byte{0x22, 0x01}, Capability: capAlways, Decode: noop}
	reqB := RequestDescriptor{Name: "b", ReqID: 3, RspID: 4, Request: []byte{0x22, 0x02}, Capability: capAlways, Decode: noop}

	decoder := &fakeDecoder{name: "test", reqs: []RequestDescriptor{reqA, reqB}, caps: capAlways}
	m := NewManager(&fakeRequester{responses: map[string][]byte{
		key(1, 2): {0x62, 0x01, 0x02},
	}}, decoder, newFakePublisher())

	require.NoError(t, m.Eval(context.Background()))
	m.SetRequestMask(capAlways)

	m.mu.Lock()
	idx := m.idx
	m.mu.Unlock()
	require.Equal(t, 0, idx)
}

func TestManagerEvalNotesErrorOnTimeout(t *testing.T) {
	const capAlways Capability = 1
	req := RequestDescriptor{Name: "a", ReqID: 1, RspID: 2, Request: []byte{0x22, 0x01}, Capability: capAlways,
		Decode: func(resp []byte, pub broker.Publisher) error { return nil }}

	requester := &fakeRequester{errOn: key(1, 2)}
	decoder := &fakeDecoder{name: "test", reqs: []RequestDescriptor{req}, caps: capAlways}
	m := NewManager(requester, decoder, newFakePublisher())

	err := m.Eval(context.Background())
	require.Error(t, err)
	require.Len(t, decoder.errors, 1)
}
