package collab

import (
	mathrand "math/rand"
	"time"
)

// reconnectPolicy computes the backoff before each reconnect attempt:
//
//	delay = min(base * 2^(attempt-1) + random(0, jitterMax), cap)
//
// The jitter decorrelates retry storms across clients that lost the same
// server. Attempts count from 1; the caller resets its attempt counter
// only after a connection reaches connected.
type reconnectPolicy struct {
	baseDelay time.Duration
	delayCap  time.Duration
	jitterMax time.Duration
}

func (self *reconnectPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := self.delayCap
	if shift := uint(attempt - 1); shift < 32 {
		if d := self.baseDelay << shift; 0 < d && d < self.delayCap {
			delay = d
		}
	}
	if 0 < self.jitterMax {
		delay += time.Duration(mathrand.Int63n(int64(self.jitterMax)))
	}
	if self.delayCap < delay {
		delay = self.delayCap
	}
	return delay
}
