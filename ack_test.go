package collab

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestAckResolve(t *testing.T) {
	tracker := newAckTracker()

	var settled []error
	tracker.register("m1", func(err error) {
		settled = append(settled, err)
	})
	assert.Equal(t, tracker.size(), 1)

	assert.Equal(t, tracker.resolve("m1"), true)
	assert.Equal(t, tracker.size(), 0)
	assert.Equal(t, len(settled), 1)
	assert.Equal(t, settled[0], nil)

	// second resolve finds nothing, the entry settles exactly once
	assert.Equal(t, tracker.resolve("m1"), false)
	assert.Equal(t, len(settled), 1)
}

func TestAckReject(t *testing.T) {
	tracker := newAckTracker()

	var settled error
	tracker.register("m1", func(err error) {
		settled = err
	})
	rejectErr := errors.New("rejected")
	assert.Equal(t, tracker.reject("m1", rejectErr), true)
	assert.Equal(t, settled, rejectErr)
	assert.Equal(t, tracker.size(), 0)

	assert.Equal(t, tracker.resolve("unknown"), false)
}

func TestAckRejectAll(t *testing.T) {
	tracker := newAckTracker()

	settled := map[string]error{}
	for _, messageId := range []string{"m1", "m2", "m3"} {
		messageId := messageId
		tracker.register(messageId, func(err error) {
			settled[messageId] = err
		})
	}

	teardownErr := errors.New("connection closed")
	tracker.rejectAll(teardownErr)

	assert.Equal(t, tracker.size(), 0)
	assert.Equal(t, len(settled), 3)
	for _, err := range settled {
		assert.Equal(t, err, teardownErr)
	}
}

func TestAckCallbackPanicRecovered(t *testing.T) {
	tracker := newAckTracker()

	tracker.register("m1", func(err error) {
		panic("bad callback")
	})
	called := false
	tracker.register("m2", func(err error) {
		called = true
	})

	// the panicking callback must not stop teardown cleanup
	tracker.rejectAll(errors.New("closed"))
	assert.Equal(t, called, true)
	assert.Equal(t, tracker.size(), 0)
}
