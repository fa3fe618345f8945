package engine

import (
	"sync"

	"github.com/api-sage/payment-gateway/internal/domain"
)

// lane is a bounded FIFO queue of admitted transaction records, consumed by
// exactly one worker. Admission reserves a slot before the PENDING record is
// durably written, so a full lane rejects before any record exists.
type lane struct {
	mu       sync.Mutex
	items    []domain.TransactionRecord
	reserved int
	capacity int
	notify   chan struct{}
}

func newLane(capacity int) *lane {
	if capacity < 1 {
		capacity = 1
	}
	return &lane{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Reserve claims a slot ahead of the durable write. It returns false when
// the lane is full, counting both queued records and outstanding
// reservations. Every successful Reserve must be followed by exactly one
// Push or Cancel.
func (l *lane) Reserve() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.items)+l.reserved >= l.capacity {
		return false
	}
	l.reserved++
	return true
}

// Cancel releases a reservation whose durable write did not happen.
func (l *lane) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reserved > 0 {
		l.reserved--
	}
}

// Push appends a record, consuming one reservation.
func (l *lane) Push(record domain.TransactionRecord) {
	l.mu.Lock()
	if l.reserved > 0 {
		l.reserved--
	}
	l.items = append(l.items, record)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Restore appends a record reloaded during startup recovery. Recovered
// records bypass the capacity check: they were admitted before the restart
// and must not be dropped.
func (l *lane) Restore(record domain.TransactionRecord) {
	l.mu.Lock()
	l.items = append(l.items, record)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until a record is available or stopCh is closed. After stopCh
// closes it returns false immediately, leaving queued records in place for
// recovery on the next startup.
func (l *lane) Pop(stopCh <-chan struct{}) (domain.TransactionRecord, bool) {
	for {
		select {
		case <-stopCh:
			return domain.TransactionRecord{}, false
		default:
		}

		l.mu.Lock()
		if len(l.items) > 0 {
			record := l.items[0]
			l.items = l.items[1:]
			l.mu.Unlock()
			return record, true
		}
		l.mu.Unlock()

		select {
		case <-stopCh:
			return domain.TransactionRecord{}, false
		case <-l.notify:
		}
	}
}

// Len returns the number of queued records, excluding reservations.
func (l *lane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.items)
}
