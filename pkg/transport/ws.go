package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kavalan/resctl/pkg/events"
)

// wireEvent is the JSON shape streamed to websocket clients; it flattens
// events.Event's optional fields so a consumer only sees what's relevant
// to the event's Kind, the way the teacher's own WS handlers send one
// purpose-built response type per message rather than a raw struct dump.
type wireEvent struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`

	PID       int    `json:"pid,omitempty"`
	Action    string `json:"action,omitempty"`
	Succeeded bool   `json:"succeeded,omitempty"`
	Cause     string `json:"cause,omitempty"`

	OldMode string `json:"old_mode,omitempty"`
	NewMode string `json:"new_mode,omitempty"`
	Reason  string `json:"reason,omitempty"`

	ReclaimKind    string `json:"reclaim_kind,omitempty"`
	FreedKB        int64  `json:"freed_kb,omitempty"`
	ReclaimSuccess bool   `json:"reclaim_success,omitempty"`

	BoostedPID int    `json:"boosted_pid,omitempty"`
	Seq        uint64 `json:"seq,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func toWireEvent(ev events.Event) wireEvent {
	w := wireEvent{
		Kind: string(ev.Kind), At: ev.At,
		PID: ev.PID, Action: string(ev.Action), Succeeded: ev.Succeeded,
		OldMode: ev.OldMode, NewMode: ev.NewMode, Reason: ev.Reason,
		ReclaimKind: ev.ReclaimKind, FreedKB: ev.FreedKB, ReclaimSuccess: ev.ReclaimSuccess,
		BoostedPID: ev.BoostedPID, Seq: ev.Seq, Detail: ev.Detail,
	}
	if ev.Cause != nil {
		w.Cause = ev.Cause.Error()
	}
	return w
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WS upgrades GET /events to a websocket and streams every event
// published on bus as JSON, FIFO per connection (spec.md §6's ordering
// guarantee: "Consumers register callbacks; ordering per consumer is
// FIFO").
type WS struct {
	bus *events.Bus
	log *slog.Logger
}

// NewWS constructs a WS transport over bus. log may be nil, in which
// case slog.Default() is used.
func NewWS(bus *events.Bus, log *slog.Logger) *WS {
	if log == nil {
		log = slog.Default()
	}
	return &WS{bus: bus, log: log}
}

// Handler implements http.Handler for mounting at e.g. GET /events.
func (s *WS) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

func (s *WS) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Buffered so Publish (running on the event producer's goroutine)
	// never blocks on a slow client; a full queue drops the oldest event
	// rather than stalling the producer.
	outbox := make(chan wireEvent, 256)
	unsubscribe := s.bus.Subscribe(func(ev events.Event) {
		we := toWireEvent(ev)
		select {
		case outbox <- we:
		default:
			select {
			case <-outbox:
			default:
			}
			outbox <- we
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case we := <-outbox:
			if err := conn.WriteJSON(we); err != nil {
				return
			}
		}
	}
}
