package core

import (
	"sync"
)

const defaultTaskHistoryCapacity = 100

// executionHistory keeps the last N invocation records. Slot total%N holds
// the next record, so the newest is at (total-1)%N.
type executionHistory struct {
	mu      sync.Mutex
	records []TaskExecutionRecord
	total   uint64
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &executionHistory{records: make([]TaskExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	h.records[h.total%uint64(len(h.records))] = record
	h.total++
	h.mu.Unlock()
}

// Len returns how many records are retained.
func (h *executionHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lenLocked()
}

func (h *executionHistory) lenLocked() int {
	if h.total < uint64(len(h.records)) {
		return int(h.total)
	}
	return len(h.records)
}

// Total returns how many records were ever added.
func (h *executionHistory) Total() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Recent returns up to limit records, newest first. limit <= 0 means all.
func (h *executionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.lenLocked()
	if n == 0 {
		return nil
	}
	if limit > 0 && limit < n {
		n = limit
	}

	size := uint64(len(h.records))
	out := make([]TaskExecutionRecord, n)
	for i := range out {
		out[i] = h.records[(h.total-1-uint64(i))%size]
	}
	return out
}
