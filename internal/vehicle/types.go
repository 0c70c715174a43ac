// Package vehicle implements the vehicle manager: the round-robin
// evaluator that walks a decoder's capability-filtered request catalogue,
// issues one request per tick through the ISO-TP layer, validates and
// resolves each response, and publishes decoded values to the broker.
package vehicle

import (
	"errors"

	"github.com/LoveWonYoung/obdtelemetry/internal/broker"
	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
)

// ErrShortResponse is returned by a Decode closure when a resolved response
// is not exactly the length its transform expects (shorter or longer) — a
// malformed or truncated ECU reply rather than a negative response (which resolve_index already
// rejects before Decode ever runs).
var ErrShortResponse = errors.New("vehicle: response too short to decode")

// Capability is a vehicle-specific bitmask gating which catalogue requests
// the evaluator issues — e.g. a platform variant without a front motor
// never needs the front-torque request active. This is a different bit
// space from broker.Item, which names published physical quantities rather
// than request eligibility.
type Capability uint32

// RequestDescriptor is one entry in a vehicle's static request catalogue:
// original spec.md's "Request descriptor" data model, generalized per the
// design notes into a capability-gated struct carrying its own decode
// closure instead of a global function-table dispatch.
type RequestDescriptor struct {
	Name       string
	ReqID      uint32
	RspID      uint32
	Request    []byte // full request payload, SID first
	Capability Capability

	// RequiredBy is the decoder-private bit(s) that make this entry
	// necessary in a runtime request mask passed to Manager.SetRequestMask
	// — the generalization of the original's per-vehicle "_set_req_mask"
	// dependency table (e.g. the Leaf's gear-position request is only
	// needed when front-torque is wanted; the MEB's gear-position request
	// is needed for either torque request, and its hv_batt_volt request
	// doubles as an aux-power dependency). Zero means "use Capability",
	// matching entries where the runtime dependency is the same bit as the
	// vehicle-variant gate.
	RequiredBy Capability

	// Decode turns a resolved, positive response into one or more broker
	// publications. It may hold decoder-receiver state across calls (e.g.
	// a gear-position flag read by a later torque request).
	Decode func(resp []byte, pub broker.Publisher) error
}

// Decoder is the capability-set interface every vehicle platform
// implements — the generalization of the original function-table
// (init/evaluate/set_request_mask/rx_data/note_error) into explicit Go
// methods instead of global state.
type Decoder interface {
	Name() string
	Requests() []RequestDescriptor
	Capabilities() Capability
	NoteError(kind canio.ErrorKind)

	// Bitrate500k reports the CAN bus speed this vehicle's ECUs expect —
	// the original's per-vehicle can_is_500k field — so the transport can
	// be configured to match instead of assuming 500k unconditionally.
	Bitrate500k() bool
}
