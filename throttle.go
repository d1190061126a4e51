package collab

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// cursorThrottle rate-limits the cursor:move class. At most one send per
// interval reaches the wire; calls inside the interval coalesce into a
// single pending position, and a scheduled flush guarantees the latest
// position is eventually sent rather than dropped.
type cursorThrottle struct {
	clk      clock.Clock
	interval time.Duration
	send     func(position Position)

	mutex    sync.Mutex
	lastSend time.Time
	pending  *Position
	flush    *clock.Timer
	stopped  bool
}

func newCursorThrottle(clk clock.Clock, interval time.Duration, send func(position Position)) *cursorThrottle {
	return &cursorThrottle{
		clk:      clk,
		interval: interval,
		send:     send,
	}
}

func (self *cursorThrottle) Update(position Position) {
	self.mutex.Lock()
	if self.stopped {
		self.mutex.Unlock()
		return
	}
	if self.interval <= 0 {
		self.lastSend = self.clk.Now()
		self.mutex.Unlock()
		self.send(position)
		return
	}

	now := self.clk.Now()
	elapsed := now.Sub(self.lastSend)
	if self.flush == nil && (self.lastSend.IsZero() || self.interval <= elapsed) {
		self.lastSend = now
		self.mutex.Unlock()
		// outside the lock. send may block on the transport write
		self.send(position)
		return
	}

	self.pending = &position
	if self.flush == nil {
		self.flush = self.clk.AfterFunc(self.interval-elapsed, self.fire)
	}
	self.mutex.Unlock()
}

func (self *cursorThrottle) fire() {
	self.mutex.Lock()
	self.flush = nil
	pending := self.pending
	self.pending = nil
	if self.stopped || pending == nil {
		self.mutex.Unlock()
		return
	}
	self.lastSend = self.clk.Now()
	self.mutex.Unlock()
	self.send(*pending)
}

// Stop cancels the scheduled flush and discards the pending position so
// nothing is sent after teardown.
func (self *cursorThrottle) Stop() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.stopped = true
	self.pending = nil
	if self.flush != nil {
		self.flush.Stop()
		self.flush = nil
	}
}
