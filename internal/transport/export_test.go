package transport

import "time"

// SetSenderAfter replaces the sender's backoff timer
func SetSenderAfter(s *Sender, after func(d time.Duration) <-chan time.Time) {
	s.after = after
}

// SetPollerAfter replaces the poller's backoff timer
func SetPollerAfter(p *Poller, after func(d time.Duration) <-chan time.Time) {
	p.after = after
}
