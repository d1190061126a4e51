package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestFanoutOrder(t *testing.T) {
	fanout := newEventFanout()

	var order []int
	fanout.subscribe(func(event *Event) {
		order = append(order, 1)
	})
	fanout.subscribe(func(event *Event) {
		order = append(order, 2)
	})
	fanout.subscribe(func(event *Event) {
		order = append(order, 3)
	})

	fanout.emit(&Event{Type: EventConnected})
	assert.Equal(t, order, []int{1, 2, 3})
}

func TestFanoutUnsubscribe(t *testing.T) {
	fanout := newEventFanout()

	count1 := 0
	count2 := 0
	unsubscribe1 := fanout.subscribe(func(event *Event) {
		count1 += 1
	})
	fanout.subscribe(func(event *Event) {
		count2 += 1
	})

	fanout.emit(&Event{Type: EventConnected})
	unsubscribe1()
	fanout.emit(&Event{Type: EventConnected})
	// unsubscribing twice is harmless
	unsubscribe1()
	fanout.emit(&Event{Type: EventConnected})

	assert.Equal(t, count1, 1)
	assert.Equal(t, count2, 3)
}

func TestFanoutPanicIsolation(t *testing.T) {
	fanout := newEventFanout()

	fanout.subscribe(func(event *Event) {
		panic("broken subscriber")
	})
	delivered := 0
	fanout.subscribe(func(event *Event) {
		delivered += 1
	})

	// the panic is recovered. remaining subscribers still run and the
	// emitter never sees it
	fanout.emit(&Event{Type: EventConnected})
	fanout.emit(&Event{Type: EventConnected})
	assert.Equal(t, delivered, 2)
}
