package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_FIFOPerSubscriber(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	var got []Kind

	b.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Kind)
	})

	b.Publish(Event{Kind: SnapshotTaken})
	b.Publish(Event{Kind: ModeChanged})
	b.Publish(Event{Kind: StarvationBoosted})

	assert.Equal(t, []Kind{SnapshotTaken, ModeChanged, StarvationBoosted}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	var calls int

	unsub1 := b.Subscribe(func(Event) { calls++ })
	unsub2 := b.Subscribe(func(Event) { calls++ })

	b.Publish(Event{Kind: SnapshotTaken})
	assert.Equal(t, 2, calls)

	unsub1()
	b.Publish(Event{Kind: SnapshotTaken})
	assert.Equal(t, 3, calls)

	unsub2()
	b.Publish(Event{Kind: SnapshotTaken})
	assert.Equal(t, 3, calls)
}

func TestBus_MultipleSubscribersIndependentOrder(t *testing.T) {
	b := NewBus()
	var a, c []Kind

	b.Subscribe(func(ev Event) { a = append(a, ev.Kind) })
	b.Subscribe(func(ev Event) { c = append(c, ev.Kind) })

	b.Publish(Event{Kind: ProcessAction})
	b.Publish(Event{Kind: ReclamationStep})

	assert.Equal(t, []Kind{ProcessAction, ReclamationStep}, a)
	assert.Equal(t, []Kind{ProcessAction, ReclamationStep}, c)
}
