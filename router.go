package collab

import (
	"encoding/json"

	"github.com/golang/glog"
)

// route decodes one inbound frame and dispatches it to exactly one
// handler. Unknown types are dropped for forward compatibility: a newer
// server may speak message types this client does not understand.
// Malformed frames are logged and discarded, they never close the
// connection.
func (self *Session) route(frame []byte) {
	var head Envelope
	if err := json.Unmarshal(frame, &head); err != nil {
		glog.Infof("[r]drop malformed frame = %s\n", err)
		return
	}

	switch head.Type {
	case MessageAck:
		if message, err := decodeMessage[AckMessage](frame); err == nil {
			self.handleAck(message)
		} else {
			glog.Infof("[r]drop malformed %s = %s\n", head.Type, err)
		}
	case MessagePresenceJoin:
		if message, err := decodeMessage[PresenceJoinMessage](frame); err == nil {
			self.handlePresenceJoin(message)
		} else {
			glog.Infof("[r]drop malformed %s = %s\n", head.Type, err)
		}
	case MessagePresenceLeave:
		self.handlePresenceLeave(&head)
	case MessagePresenceUpdate:
		if message, err := decodeMessage[PresenceUpdateMessage](frame); err == nil {
			self.handlePresenceUpdate(message)
		} else {
			glog.Infof("[r]drop malformed %s = %s\n", head.Type, err)
		}
	case MessageWidgetCreate:
		if message, err := decodeMessage[WidgetCreateMessage](frame); err == nil {
			self.applier.applyCreate(message)
		} else {
			glog.Infof("[r]drop malformed %s = %s\n", head.Type, err)
		}
	case MessageWidgetUpdate:
		if message, err := decodeMessage[WidgetUpdateMessage](frame); err == nil {
			self.applier.applyUpdate(message)
		} else {
			glog.Infof("[r]drop malformed %s = %s\n", head.Type, err)
		}
	case MessageWidgetDelete:
		if message, err := decodeMessage[WidgetDeleteMessage](frame); err == nil {
			self.applier.applyDelete(message)
		} else {
			glog.Infof("[r]drop malformed %s = %s\n", head.Type, err)
		}
	case MessageWidgetMove:
		if message, err := decodeMessage[WidgetMoveMessage](frame); err == nil {
			self.applier.applyMove(message)
		} else {
			glog.Infof("[r]drop malformed %s = %s\n", head.Type, err)
		}
	case MessageWidgetResize:
		if message, err := decodeMessage[WidgetResizeMessage](frame); err == nil {
			self.applier.applyResize(message)
		} else {
			glog.Infof("[r]drop malformed %s = %s\n", head.Type, err)
		}
	case MessageWidgetState:
		if message, err := decodeMessage[WidgetStateMessage](frame); err == nil {
			self.applier.applyState(message)
		} else {
			glog.Infof("[r]drop malformed %s = %s\n", head.Type, err)
		}
	case MessageError:
		if message, err := decodeMessage[ErrorMessage](frame); err == nil {
			self.handleServerError(message)
		} else {
			glog.Infof("[r]drop malformed %s = %s\n", head.Type, err)
		}
	default:
		glog.V(1).Infof("[r]drop unknown type %s\n", head.Type)
	}
}

func (self *Session) handleAck(message *AckMessage) {
	if message.OriginalMessageId == "" {
		glog.V(1).Infof("[r]drop ack without original message id\n")
		return
	}
	if message.Success {
		if !self.acks.resolve(message.OriginalMessageId) {
			glog.V(1).Infof("[r]ack for unknown message %s\n", message.OriginalMessageId)
		}
	} else {
		self.acks.reject(message.OriginalMessageId, &AckError{
			Code:    message.Code,
			Message: message.Message,
		})
	}
}

func (self *Session) handlePresenceJoin(message *PresenceJoinMessage) {
	participant := self.presence.add(message.User)
	if participant == nil {
		// self presence, ignored
		return
	}
	self.emit(&Event{
		Type:        EventParticipantJoined,
		UserId:      participant.UserId,
		Username:    participant.Username,
		Participant: participant,
	})
}

func (self *Session) handlePresenceLeave(head *Envelope) {
	username, ok := self.presence.remove(head.UserId)
	if !ok {
		return
	}
	self.emit(&Event{
		Type:     EventParticipantLeft,
		UserId:   head.UserId,
		Username: username,
	})
}

func (self *Session) handlePresenceUpdate(message *PresenceUpdateMessage) {
	participant, ok := self.presence.update(message.UserId, message.Cursor, message.SelectedIds)
	if !ok {
		// update before join. ordering across hops is not guaranteed
		glog.V(2).Infof("[r]presence update for unknown user %s\n", message.UserId)
		return
	}
	self.emit(&Event{
		Type:        EventParticipantUpdated,
		UserId:      participant.UserId,
		Username:    participant.Username,
		Participant: participant,
	})
}

// a server error frame is informational. it never closes the connection.
func (self *Session) handleServerError(message *ErrorMessage) {
	glog.Infof("[r]server error %s = %s\n", message.Code, message.Message)
	self.emit(&Event{
		Type:   EventServerError,
		Code:   message.Code,
		Reason: message.Message,
	})
}
