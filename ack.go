package collab

import (
	"sync"
)

// AckFunction receives the outcome of an acked request. nil err means the
// server confirmed the request.
type AckFunction func(err error)

// ackTracker correlates request message ids with their asynchronous acks.
// Every registered entry settles exactly once: on the matching ack frame,
// on an explicit reject, or via rejectAll at connection teardown. Nothing
// is ever left hanging.
type ackTracker struct {
	mutex   sync.Mutex
	pending map[string]AckFunction
}

func newAckTracker() *ackTracker {
	return &ackTracker{
		pending: map[string]AckFunction{},
	}
}

func (self *ackTracker) register(messageId string, callback AckFunction) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.pending[messageId] = callback
}

func (self *ackTracker) resolve(messageId string) bool {
	return self.settle(messageId, nil)
}

func (self *ackTracker) reject(messageId string, err error) bool {
	return self.settle(messageId, err)
}

func (self *ackTracker) settle(messageId string, err error) bool {
	self.mutex.Lock()
	callback, ok := self.pending[messageId]
	if ok {
		delete(self.pending, messageId)
	}
	self.mutex.Unlock()

	if !ok {
		return false
	}
	// outside the lock. callbacks may re-enter the session and send
	HandleError(func() {
		callback(err)
	})
	return true
}

func (self *ackTracker) rejectAll(err error) {
	self.mutex.Lock()
	pending := self.pending
	self.pending = map[string]AckFunction{}
	self.mutex.Unlock()

	for _, callback := range pending {
		callback := callback
		HandleError(func() {
			callback(err)
		})
	}
}

func (self *ackTracker) size() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.pending)
}
