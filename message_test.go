package collab

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDecodeFlatEnvelope(t *testing.T) {
	// type-specific fields sit flat next to the envelope fields
	frame := []byte(`{
		"type": "widget:update",
		"id": "m1",
		"timestamp": 1700000000000,
		"canvasId": "c1",
		"userId": "u2",
		"widgetId": "w1",
		"changes": {"title": "hello"}
	}`)

	message, err := decodeMessage[WidgetUpdateMessage](frame)
	assert.Equal(t, err, nil)
	assert.Equal(t, message.Type, MessageWidgetUpdate)
	assert.Equal(t, message.Id, "m1")
	assert.Equal(t, message.CanvasId, "c1")
	assert.Equal(t, message.UserId, "u2")
	assert.Equal(t, message.WidgetId, "w1")
	assert.Equal(t, message.Changes["title"], "hello")
}

func TestEncodeFlatEnvelope(t *testing.T) {
	frame, err := encodeMessage(&AuthMessage{
		Envelope: Envelope{
			Type:      MessageAuth,
			Id:        "a1",
			Timestamp: 42,
		},
		Token: "tok1",
	})
	assert.Equal(t, err, nil)

	flat := map[string]any{}
	err = json.Unmarshal(frame, &flat)
	assert.Equal(t, err, nil)
	assert.Equal(t, flat["type"], MessageAuth)
	assert.Equal(t, flat["id"], "a1")
	assert.Equal(t, flat["token"], "tok1")
	// the embedded envelope must not nest
	_, nested := flat["Envelope"]
	assert.Equal(t, nested, false)
}

func TestDecodeAck(t *testing.T) {
	frame := []byte(`{"type":"ack","timestamp":1,"originalMessageId":"m1","success":false,"code":"forbidden","message":"nope"}`)
	message, err := decodeMessage[AckMessage](frame)
	assert.Equal(t, err, nil)
	assert.Equal(t, message.OriginalMessageId, "m1")
	assert.Equal(t, message.Success, false)

	ackErr := &AckError{Code: message.Code, Message: message.Message}
	assert.Equal(t, ackErr.Error(), "request rejected (forbidden): nope")
}
