package dispatcher

import (
	"sync"

	"btmonitor/internal/models"
)

// ActionLog is the bounded, append-only archive of dispatched actions.
// When full, the oldest record is evicted.
type ActionLog struct {
	mu       sync.Mutex
	entries  []models.ActionRecord
	capacity int
}

func NewActionLog(capacity int) *ActionLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &ActionLog{capacity: capacity}
}

func (l *ActionLog) Append(rec models.ActionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = rec
		return
	}
	l.entries = append(l.entries, rec)
}

// Tail returns copies of up to n most recent records, oldest first.
func (l *ActionLog) Tail(n int) []models.ActionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]models.ActionRecord, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

func (l *ActionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
