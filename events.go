package collab

import (
	"sync"
)

type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventReconnecting    EventType = "reconnecting"
	EventConnectionError EventType = "connection:error"
	EventConnectionStale EventType = "connection:stale"

	EventCanvasJoined EventType = "canvas:joined"
	EventCanvasLeft   EventType = "canvas:left"

	EventParticipantJoined  EventType = "participant:joined"
	EventParticipantLeft    EventType = "participant:left"
	EventParticipantUpdated EventType = "participant:updated"

	EventWidgetCreated      EventType = "widget:created"
	EventWidgetUpdated      EventType = "widget:updated"
	EventWidgetDeleted      EventType = "widget:deleted"
	EventWidgetMoved        EventType = "widget:moved"
	EventWidgetResized      EventType = "widget:resized"
	EventWidgetStateChanged EventType = "widget:state"

	EventServerError EventType = "server:error"
)

// Event is the normalized record republished to subscribers. Only the
// fields relevant to the event type are set.
type Event struct {
	Type EventType

	CanvasId string
	Reason   string
	Code     string
	Attempt  int

	UserId      string
	Username    string
	Participant *Participant

	WidgetId    string
	Widget      map[string]any
	Changes     map[string]any
	Position    *Position
	Dimensions  *Dimensions
	State       map[string]any
	SelectedIds []string
}

type EventFunction func(event *Event)

type eventCallback struct {
	callbackId int
	callback   EventFunction
}

// eventFanout delivers events synchronously, in subscription order, on the
// calling goroutine. A panicking subscriber is recovered and never blocks
// delivery to the remaining subscribers.
type eventFanout struct {
	mutex          sync.Mutex
	nextCallbackId int
	callbacks      []*eventCallback
}

func newEventFanout() *eventFanout {
	return &eventFanout{}
}

func (self *eventFanout) subscribe(callback EventFunction) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbacks = append(self.callbacks, &eventCallback{
		callbackId: callbackId,
		callback:   callback,
	})
	return func() {
		self.unsubscribe(callbackId)
	}
}

func (self *eventFanout) unsubscribe(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for i, entry := range self.callbacks {
		if entry.callbackId == callbackId {
			nextCallbacks := make([]*eventCallback, 0, len(self.callbacks)-1)
			nextCallbacks = append(nextCallbacks, self.callbacks[:i]...)
			nextCallbacks = append(nextCallbacks, self.callbacks[i+1:]...)
			self.callbacks = nextCallbacks
			return
		}
	}
}

func (self *eventFanout) emit(event *Event) {
	self.mutex.Lock()
	callbacks := make([]*eventCallback, len(self.callbacks))
	copy(callbacks, self.callbacks)
	self.mutex.Unlock()

	for _, entry := range callbacks {
		callback := entry.callback
		HandleError(func() {
			callback(event)
		})
	}
}
