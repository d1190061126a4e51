package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func newTestApplier() (*mutationApplier, *MemoryStore, *[]*Event) {
	store := NewMemoryStore()
	events := &[]*Event{}
	applier := newMutationApplier(store, func(event *Event) {
		*events = append(*events, event)
	})
	return applier, store, events
}

func TestApplyCreateAndDelete(t *testing.T) {
	applier, store, events := newTestApplier()

	applier.applyCreate(&WidgetCreateMessage{
		Envelope: Envelope{Type: MessageWidgetCreate, UserId: "u2"},
		Widget:   map[string]any{"id": "w1", "kind": "note", "title": "hi"},
	})
	entity, ok := store.GetEntity("w1")
	assert.Equal(t, ok, true)
	assert.Equal(t, entity["title"], "hi")
	assert.Equal(t, (*events)[0].Type, EventWidgetCreated)

	applier.applyDelete(&WidgetDeleteMessage{
		Envelope: Envelope{Type: MessageWidgetDelete},
		WidgetId: "w1",
	})
	_, ok = store.GetEntity("w1")
	assert.Equal(t, ok, false)
	assert.Equal(t, (*events)[1].Type, EventWidgetDeleted)
}

func TestApplyUpdateIdempotent(t *testing.T) {
	applier, store, _ := newTestApplier()
	store.InsertEntity(map[string]any{"id": "w1", "title": "old", "count": 1})

	update := &WidgetUpdateMessage{
		Envelope: Envelope{Type: MessageWidgetUpdate},
		WidgetId: "w1",
		Changes:  map[string]any{"title": "new"},
	}
	applier.applyUpdate(update)
	once, _ := store.GetEntity("w1")

	// redundant delivery of the same update must leave state identical.
	// fields are assigned, never accumulated
	applier.applyUpdate(update)
	twice, _ := store.GetEntity("w1")
	assert.Equal(t, once, twice)
	assert.Equal(t, twice["title"], "new")
	assert.Equal(t, twice["count"], 1)
}

func TestApplyCreateIdempotent(t *testing.T) {
	applier, store, _ := newTestApplier()

	create := &WidgetCreateMessage{
		Envelope: Envelope{Type: MessageWidgetCreate},
		Widget:   map[string]any{"id": "w1", "title": "hi"},
	}
	applier.applyCreate(create)
	applier.applyCreate(create)
	assert.Equal(t, store.Size(), 1)
	entity, _ := store.GetEntity("w1")
	assert.Equal(t, entity["title"], "hi")
}

func TestApplyGeometry(t *testing.T) {
	applier, store, events := newTestApplier()
	store.InsertEntity(map[string]any{"id": "w1"})

	applier.applyMove(&WidgetMoveMessage{
		Envelope: Envelope{Type: MessageWidgetMove},
		WidgetId: "w1",
		Position: Position{X: 5, Y: 6},
	})
	applier.applyResize(&WidgetResizeMessage{
		Envelope:   Envelope{Type: MessageWidgetResize},
		WidgetId:   "w1",
		Dimensions: Dimensions{Width: 100, Height: 50},
	})
	applier.applyState(&WidgetStateMessage{
		Envelope: Envelope{Type: MessageWidgetState},
		WidgetId: "w1",
		State:    map[string]any{"collapsed": true},
	})

	entity, _ := store.GetEntity("w1")
	assert.Equal(t, entity["position"], Position{X: 5, Y: 6})
	assert.Equal(t, entity["dimensions"], Dimensions{Width: 100, Height: 50})
	assert.Equal(t, entity["state"], map[string]any{"collapsed": true})

	assert.Equal(t, len(*events), 3)
	assert.Equal(t, (*events)[0].Type, EventWidgetMoved)
	assert.Equal(t, (*events)[1].Type, EventWidgetResized)
	assert.Equal(t, (*events)[2].Type, EventWidgetStateChanged)
}

func TestApplyMissingWidgetId(t *testing.T) {
	applier, store, events := newTestApplier()

	applier.applyCreate(&WidgetCreateMessage{
		Envelope: Envelope{Type: MessageWidgetCreate},
		Widget:   map[string]any{"title": "no id"},
	})
	applier.applyUpdate(&WidgetUpdateMessage{
		Envelope: Envelope{Type: MessageWidgetUpdate},
	})
	assert.Equal(t, store.Size(), 0)
	assert.Equal(t, len(*events), 0)
}
