package syncx

import "sync/atomic"

// HighWater counts concurrent holders and remembers the peak.
type HighWater struct {
	cur  atomic.Int64
	peak atomic.Int64
}

// Enter records one more holder and returns a func that releases it.
func (h *HighWater) Enter() (leave func()) {
	n := h.cur.Add(1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return func() { h.cur.Add(-1) }
}

// Current returns the number of active holders.
func (h *HighWater) Current() int { return int(h.cur.Load()) }

// Peak returns the highest concurrency seen since the last Reset.
func (h *HighWater) Peak() int { return int(h.peak.Load()) }

// Reset clears the peak down to the current level.
func (h *HighWater) Reset() { h.peak.Store(h.cur.Load()) }
