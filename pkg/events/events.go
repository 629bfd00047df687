// Package events implements the fan-out event stream: a small set of
// typed events, delivered FIFO per consumer, through a copy-on-write
// subscriber list — register takes a short lock to append, publish
// iterates over a local snapshot of the list.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind tags one of the closed event types published on the bus.
type Kind string

const (
	SnapshotTaken           Kind = "snapshot_taken"
	ModeChanged             Kind = "mode_changed"
	AutoModeSuggested       Kind = "auto_mode_suggested"
	ProcessAction           Kind = "process_action"
	ResourceLimitExceeded   Kind = "resource_limit_exceeded"
	SystemThresholdExceeded Kind = "system_threshold_exceeded"
	StarvationBoosted       Kind = "starvation_boosted"
	ReclamationStep         Kind = "reclamation_step"
)

// Action tags the Process-action event's action field.
type Action string

const (
	ActionPause       Action = "pause"
	ActionResume      Action = "resume"
	ActionTerminate   Action = "terminate"
	ActionSetPriority Action = "set_priority"
)

// Event is the single envelope type carried on the bus. Only the fields
// relevant to Kind are populated; this mirrors spec.md's closed event
// list without requiring one Go type per kind.
type Event struct {
	Kind    Kind
	At      time.Time
	TraceID uuid.UUID

	// ProcessAction
	PID       int
	Action    Action
	Succeeded bool
	Cause     error

	// ModeChanged / AutoModeSuggested
	OldMode string
	NewMode string
	Reason  string

	// ReclamationStep
	ReclaimKind    string
	FreedKB        int64
	ReclaimSuccess bool

	// StarvationBoosted
	BoostedPID int

	// SnapshotTaken
	Seq uint64

	// Free-form detail for threshold events.
	Detail string
}

// Callback is invoked once per event, serially, never while a publisher
// holds its own internal mutex (spec.md §9's re-entrancy rule).
type Callback func(Event)

type subscriber struct {
	id int
	cb Callback
}

// Bus is a minimal, goroutine-safe fan-out publisher.
type Bus struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers cb to be invoked for every future Publish. Returns
// an Unsubscribe function. Registration takes a short lock to append;
// it never blocks on delivery.
func (b *Bus) Subscribe(cb Callback) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	next := make([]subscriber, len(b.subs)+1)
	copy(next, b.subs)
	next[len(b.subs)] = subscriber{id: id, cb: cb}
	b.subs = next
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		next := make([]subscriber, 0, len(b.subs))
		for _, s := range b.subs {
			if s.id == id {
				continue
			}
			next = append(next, s)
		}
		b.subs = next
	}
}

// Publish delivers ev to every subscriber in registration order, over a
// local snapshot of the subscriber list taken under the lock — a slow or
// misbehaving subscriber added after this call begins is unaffected, and
// Publish never holds the lock during delivery.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		s.cb(ev)
	}
}
