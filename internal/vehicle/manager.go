package vehicle

import (
	"context"
	"fmt"
	"sync"

	"github.com/LoveWonYoung/obdtelemetry/internal/broker"
	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
)

// Requester is the subset of *isotp.Manager the vehicle manager needs,
// narrowed to an interface so tests can inject a fake without a real
// transport.
type Requester interface {
	Request(ctx context.Context, reqID, rspID uint32, payload []byte) ([]byte, error)
}

// Manager is the vehicle manager: it owns one decoder's capability-filtered
// request catalogue and, once per Eval call, issues the next request in
// round-robin order, resolves and decodes its response, and publishes the
// result to the broker — mirroring vm_eval's one-request-per-tick cadence
// without the original's ISR-fed single-slot buffer, since a request here
// always blocks for its own response.
type Manager struct {
	requester Requester
	decoder   Decoder
	publisher broker.Publisher

	all []RequestDescriptor // decoder's full catalogue, filtered to this vehicle variant

	mu       sync.Mutex
	requests []RequestDescriptor // current round-robin set, narrowed by the active request mask
	idx      int
}

// NewManager builds a vehicle manager over the given decoder, filtering its
// full catalogue down to the requests whose capability bit is set (or which
// carry no capability gate at all), then activates every request the
// decoder supports — matching the firmware polling everything it can until
// told otherwise via SetRequestMask.
func NewManager(requester Requester, decoder Decoder, publisher broker.Publisher) *Manager {
	all := decoder.Requests()
	caps := decoder.Capabilities()
	variant := make([]RequestDescriptor, 0, len(all))
	for _, r := range all {
		if r.Capability == 0 || r.Capability&caps != 0 {
			variant = append(variant, r)
		}
	}
	m := &Manager{requester: requester, decoder: decoder, publisher: publisher, all: variant}
	m.SetRequestMask(caps)
	return m
}

// SetRequestMask recomputes the round-robin request set to exactly the
// catalogue entries whose RequiredBy bits intersect mask (falling back to
// Capability for entries that don't set RequiredBy), and resets the
// round-robin cursor back to the first entry — the Go equivalent of
// vm_set_request_item_mask / fcn_set_req_mask, applied synchronously
// instead of deferred to the next tick via a pending-update flag, since
// Eval never runs concurrently with SetRequestMask here.
func (m *Manager) SetRequestMask(mask Capability) {
	active := make([]RequestDescriptor, 0, len(m.all))
	for _, r := range m.all {
		required := r.RequiredBy
		if required == 0 {
			required = r.Capability
		}
		if required == 0 || required&mask != 0 {
			active = append(active, r)
		}
	}

	m.mu.Lock()
	m.requests = active
	m.idx = 0
	m.mu.Unlock()
}

// Name returns the underlying decoder's vehicle name.
func (m *Manager) Name() string { return m.decoder.Name() }

// Len reports how many requests are active in this round.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Eval issues the next request in the round-robin sequence, resolves and
// decodes its response, and publishes the result. A request timeout is
// reported to the decoder and simply retried on the next round, matching
// the original's no-retry-within-tick behavior.
func (m *Manager) Eval(ctx context.Context) error {
	m.mu.Lock()
	if len(m.requests) == 0 {
		m.mu.Unlock()
		return nil
	}
	entry := m.requests[m.idx]
	m.idx = (m.idx + 1) % len(m.requests)
	m.mu.Unlock()

	resp, err := m.requester.Request(ctx, entry.ReqID, entry.RspID, entry.Request)
	if err != nil {
		m.decoder.NoteError(canio.ErrorTimeout)
		return fmt.Errorf("vehicle: request %s: %w", entry.Name, err)
	}

	candidates := requestsWithRspID(m.allRequests(), entry.RspID)
	idx, ok := resolveIndex(resp, candidates)
	if !ok || candidates[idx].Name != entry.Name {
		m.decoder.NoteError(canio.ErrorLinkLost)
		return fmt.Errorf("vehicle: response for %s did not resolve to the request sent", entry.Name)
	}

	return entry.Decode(resp, m.publisher)
}

func (m *Manager) allRequests() []RequestDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}
