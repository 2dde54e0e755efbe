// Package anomaly watches task/run/agent activity for failure-rate spikes,
// cost spikes, stuck runs, stalled progress, and unresponsive agents,
// suppressing repeat reports of the same condition within a cooldown
// window (C12).
package anomaly

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

const maxSuppressionEntries = 200

type suppressionEntry struct {
	signature      string
	lastReportedAt time.Time
}

// suppressor is a bounded, LRU-evicted table of recently reported alert
// signatures, mirroring the shape of a TTL-based dedup cache but held
// in-process since anomaly state is not shared across cycle manager
// instances.
type suppressor struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newSuppressor(capacity int) *suppressor {
	if capacity <= 0 {
		capacity = maxSuppressionEntries
	}
	return &suppressor{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// shouldReport reports whether an alert with this signature may be emitted
// now: true the first time a signature is seen, or whenever cooldown has
// elapsed since it was last reported. A suppressed report does not refresh
// its own timer, but every lookup counts as recent use for LRU purposes.
func (s *suppressor) shouldReport(signature string, cooldown time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.index[signature]; ok {
		entry := elem.Value.(*suppressionEntry)
		s.order.MoveToFront(elem)
		if now.Sub(entry.lastReportedAt) < cooldown {
			return false
		}
		entry.lastReportedAt = now
		return true
	}

	entry := &suppressionEntry{signature: signature, lastReportedAt: now}
	elem := s.order.PushFront(entry)
	s.index[signature] = elem

	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.index, oldest.Value.(*suppressionEntry).signature)
		}
	}
	return true
}

// Signature builds the per-alert dedup key: type, severity, and the first
// 200 characters of a stringified details payload.
func Signature(alertType string, severity Severity, details map[string]any) string {
	detailStr := fmt.Sprintf("%v", details)
	if len(detailStr) > 200 {
		detailStr = detailStr[:200]
	}
	return alertType + ":" + string(severity) + ":" + detailStr
}
