package collab

import (
	"github.com/golang/glog"
)

// mutationApplier translates inbound widget messages into store calls.
// Geometric updates (move, resize, state) hit the store directly to keep
// latency low; every class additionally emits a normalized event so other
// subsystems can react without touching the store.
//
// All applications are idempotent: fields are assigned, never accumulated,
// so redundant delivery of the same message leaves the store unchanged.
type mutationApplier struct {
	store EntityStore
	emit  func(event *Event)
}

func newMutationApplier(store EntityStore, emit func(event *Event)) *mutationApplier {
	return &mutationApplier{
		store: store,
		emit:  emit,
	}
}

func (self *mutationApplier) applyCreate(message *WidgetCreateMessage) {
	if message.Widget == nil {
		glog.V(1).Infof("[m]drop create without widget\n")
		return
	}
	widgetId, _ := message.Widget["id"].(string)
	if widgetId == "" {
		glog.V(1).Infof("[m]drop create without widget id\n")
		return
	}
	if _, ok := self.store.GetEntity(widgetId); ok {
		// redundant delivery. assign the fields instead of inserting twice
		self.store.UpdateEntity(widgetId, message.Widget)
	} else {
		self.store.InsertEntity(message.Widget)
	}
	self.emit(&Event{
		Type:     EventWidgetCreated,
		WidgetId: widgetId,
		Widget:   message.Widget,
		UserId:   message.UserId,
	})
}

func (self *mutationApplier) applyUpdate(message *WidgetUpdateMessage) {
	if message.WidgetId == "" {
		glog.V(1).Infof("[m]drop update without widget id\n")
		return
	}
	self.store.UpdateEntity(message.WidgetId, message.Changes)
	self.emit(&Event{
		Type:     EventWidgetUpdated,
		WidgetId: message.WidgetId,
		Changes:  message.Changes,
		UserId:   message.UserId,
	})
}

func (self *mutationApplier) applyDelete(message *WidgetDeleteMessage) {
	if message.WidgetId == "" {
		glog.V(1).Infof("[m]drop delete without widget id\n")
		return
	}
	self.store.RemoveEntity(message.WidgetId)
	self.emit(&Event{
		Type:     EventWidgetDeleted,
		WidgetId: message.WidgetId,
		UserId:   message.UserId,
	})
}

func (self *mutationApplier) applyMove(message *WidgetMoveMessage) {
	if message.WidgetId == "" {
		return
	}
	self.store.UpdateEntity(message.WidgetId, map[string]any{
		"position": message.Position,
	})
	position := message.Position
	self.emit(&Event{
		Type:     EventWidgetMoved,
		WidgetId: message.WidgetId,
		Position: &position,
		UserId:   message.UserId,
	})
}

func (self *mutationApplier) applyResize(message *WidgetResizeMessage) {
	if message.WidgetId == "" {
		return
	}
	self.store.UpdateEntity(message.WidgetId, map[string]any{
		"dimensions": message.Dimensions,
	})
	dimensions := message.Dimensions
	self.emit(&Event{
		Type:       EventWidgetResized,
		WidgetId:   message.WidgetId,
		Dimensions: &dimensions,
		UserId:     message.UserId,
	})
}

func (self *mutationApplier) applyState(message *WidgetStateMessage) {
	if message.WidgetId == "" {
		return
	}
	self.store.UpdateEntity(message.WidgetId, map[string]any{
		"state": message.State,
	})
	self.emit(&Event{
		Type:     EventWidgetStateChanged,
		WidgetId: message.WidgetId,
		State:    message.State,
		UserId:   message.UserId,
	})
}
