// Package broker implements the data broker: a fixed table of published
// physical quantities, each holding its latest and previous sample, drained
// to subscriber callbacks on demand.
package broker

import "sync"

// Item names one published physical quantity, one bit per slot exactly as
// the original data broker's DB_ITEM_* bitmask did.
type Item uint32

const (
	ItemHVBattV    Item = 1 << 0
	ItemHVBattI    Item = 1 << 1
	ItemHVBattMinT Item = 1 << 2
	ItemHVBattMaxT Item = 1 << 3
	ItemLVBattV    Item = 1 << 4
	ItemLVBattI    Item = 1 << 5
	ItemLVBattT    Item = 1 << 6
	ItemAuxKW      Item = 1 << 8
	ItemFrontTorque Item = 1 << 12
	ItemRearTorque  Item = 1 << 13
	ItemSpeed       Item = 1 << 16
	ItemGPSElevation Item = 1 << 20
)

// MaxItems bounds the broker's table, matching the original's fixed
// 32-slot array sized to one bit per uint32.
const MaxItems = 32

// Publisher is the narrow interface decoders publish through, so they
// never need the full Broker surface (subscription, draining).
type Publisher interface {
	Publish(item Item, value float64)
}

type entry struct {
	item      Item
	set       bool
	updated   bool
	current   float64
	previous  float64
}

// Broker is the data broker: mutex-protected (latest, previous) pairs for
// up to MaxItems quantities, optionally fast-averaged, drained to
// subscriber callbacks.
type Broker struct {
	mu           sync.Mutex
	entries      [MaxItems]entry
	fastAverage  bool
	callbacks    map[Item]func(value float64)
}

// New builds an empty broker. Fast averaging (publishing the mean of the
// latest two samples rather than just the latest) is off by default.
func New() *Broker {
	return &Broker{callbacks: make(map[Item]func(value float64))}
}

// SetFastAverage toggles two-sample averaging for every published item.
func (b *Broker) SetFastAverage(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fastAverage = enabled
}

func indexForItem(item Item) int {
	for i := 0; i < MaxItems; i++ {
		if item == (1 << uint(i)) {
			return i
		}
	}
	return -1
}

// Publish records a new sample for item, shifting the previous current
// value into the previous slot, exactly as db_set_data_item_value does.
func (b *Broker) Publish(item Item, value float64) {
	idx := indexForItem(item)
	if idx < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e := &b.entries[idx]
	e.item = item
	e.previous = e.current
	e.current = value
	e.set = true
	e.updated = true
}

// Register installs a drain callback for item, matching
// db_register_gui_callback: any pending updated flag and stored value for
// that slot are cleared so the new subscriber starts clean.
func (b *Broker) Register(item Item, cb func(value float64)) {
	idx := indexForItem(item)
	if idx < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[item] = cb
	e := &b.entries[idx]
	e.updated = false
	e.current = 0
	e.previous = 0
	e.set = false
}

// Drain calls every registered callback whose item has been updated since
// the last drain, passing the fast-averaged value when enabled, then clears
// every updated flag in one pass — matching db_gui_eval.
func (b *Broker) Drain() {
	type pending struct {
		cb    func(value float64)
		value float64
	}

	b.mu.Lock()
	var calls []pending
	for i := 0; i < MaxItems; i++ {
		e := &b.entries[i]
		if !e.set || !e.updated {
			continue
		}
		cb, ok := b.callbacks[e.item]
		if !ok {
			continue
		}
		value := e.current
		if b.fastAverage {
			value = (e.current + e.previous) / 2.0
		}
		calls = append(calls, pending{cb: cb, value: value})
	}
	for i := range b.entries {
		b.entries[i].updated = false
	}
	b.mu.Unlock()

	// Callbacks run with the lock released, so one that reads the broker
	// (Latest) doesn't deadlock against itself.
	for _, p := range calls {
		p.cb(p.value)
	}
}

// Latest returns the most recent sample for item and whether one has ever
// been published.
func (b *Broker) Latest(item Item) (float64, bool) {
	idx := indexForItem(item)
	if idx < 0 {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e := &b.entries[idx]
	return e.current, e.set
}
