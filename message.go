package collab

import (
	"encoding/json"
	"fmt"
)

// wire message types. the envelope `type` field selects exactly one
// payload shape; unknown types are dropped by the router so that a newer
// server can speak to an older client.
const (
	MessageAuth            = "auth"
	MessageAck             = "ack"
	MessageJoin            = "join"
	MessageLeave           = "leave"
	MessagePresenceJoin    = "presence:join"
	MessagePresenceLeave   = "presence:leave"
	MessagePresenceUpdate  = "presence:update"
	MessageWidgetCreate    = "widget:create"
	MessageWidgetUpdate    = "widget:update"
	MessageWidgetDelete    = "widget:delete"
	MessageWidgetMove      = "widget:move"
	MessageWidgetResize    = "widget:resize"
	MessageWidgetState     = "widget:state"
	MessageCursorMove      = "cursor:move"
	MessageSelectionChange = "selection:change"
	MessageError           = "error"
)

// Envelope carries the fields common to every wire message. Type-specific
// fields sit flat next to these in the same JSON object; each message
// struct embeds Envelope so the promoted fields marshal inline.
// `Id` is set only on messages that expect an ack.
type Envelope struct {
	Type      string `json:"type"`
	Id        string `json:"id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	CanvasId  string `json:"canvasId,omitempty"`
	UserId    string `json:"userId,omitempty"`
}

type AuthMessage struct {
	Envelope
	Token string `json:"token"`
}

type AckMessage struct {
	Envelope
	OriginalMessageId string `json:"originalMessageId"`
	Success           bool   `json:"success"`
	Code              string `json:"code,omitempty"`
	Message           string `json:"message,omitempty"`
}

// join and leave carry only the envelope. canvasId rides in the envelope.
type JoinMessage struct {
	Envelope
}

type LeaveMessage struct {
	Envelope
}

type ParticipantInfo struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type PresenceJoinMessage struct {
	Envelope
	User ParticipantInfo `json:"user"`
}

type PresenceLeaveMessage struct {
	Envelope
}

type PresenceUpdateMessage struct {
	Envelope
	Cursor      *Position `json:"cursor,omitempty"`
	SelectedIds []string  `json:"selectedIds,omitempty"`
}

type WidgetCreateMessage struct {
	Envelope
	Widget map[string]any `json:"widget"`
}

type WidgetUpdateMessage struct {
	Envelope
	WidgetId string         `json:"widgetId"`
	Changes  map[string]any `json:"changes"`
}

type WidgetDeleteMessage struct {
	Envelope
	WidgetId string `json:"widgetId"`
}

type WidgetMoveMessage struct {
	Envelope
	WidgetId string   `json:"widgetId"`
	Position Position `json:"position"`
}

type WidgetResizeMessage struct {
	Envelope
	WidgetId   string     `json:"widgetId"`
	Dimensions Dimensions `json:"dimensions"`
}

type WidgetStateMessage struct {
	Envelope
	WidgetId string         `json:"widgetId"`
	State    map[string]any `json:"state"`
}

type CursorMoveMessage struct {
	Envelope
	Position Position `json:"position"`
}

type SelectionChangeMessage struct {
	Envelope
	SelectedIds []string `json:"selectedIds"`
}

type ErrorMessage struct {
	Envelope
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeMessage(message any) ([]byte, error) {
	return json.Marshal(message)
}

func decodeMessage[M any](frame []byte) (*M, error) {
	message := new(M)
	if err := json.Unmarshal(frame, message); err != nil {
		return nil, err
	}
	return message, nil
}

// the server rejected an acked request
type AckError struct {
	Code    string
	Message string
}

func (self *AckError) Error() string {
	if self.Code != "" {
		return fmt.Sprintf("request rejected (%s): %s", self.Code, self.Message)
	}
	return fmt.Sprintf("request rejected: %s", self.Message)
}

// the server rejected the credential. retrying with the same credential
// is pointless, so this error never triggers auto reconnect.
type AuthError struct {
	Code    string
	Message string
}

func (self *AuthError) Error() string {
	if self.Code != "" {
		return fmt.Sprintf("auth rejected (%s): %s", self.Code, self.Message)
	}
	return fmt.Sprintf("auth rejected: %s", self.Message)
}
