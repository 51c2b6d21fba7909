package session

import (
	"sync"
	"time"

	"github.com/matterkeep/sessiond/pkg/transport"
)

// RetransmitEntry tracks one reliable (MRP, R-flag) message awaiting
// acknowledgement. There is at most one pending retransmit per session: the
// teacher's per-exchange tracker enforced the same one-pending rule per
// exchange, scoped down here to sessions since this subsystem doesn't model
// exchanges.
type RetransmitEntry struct {
	// LocalSessionID identifies the session the message was sent on.
	LocalSessionID uint16

	// MessageCounter is the counter of the sent message.
	MessageCounter uint32

	// Message is the fully encoded frame, ready for retransmission.
	Message []byte

	// PeerAddress is the destination for retransmission.
	PeerAddress transport.PeerAddress

	// SendCount is the number of times this message has been sent, starting
	// at 1 for the initial transmission.
	SendCount int

	stop StopFunc
}

// Stop cancels the entry's retransmission timer, if running.
func (e *RetransmitEntry) Stop() {
	if e.stop != nil {
		e.stop()
		e.stop = nil
	}
}

// RetransmitTable manages pending MRP retransmissions, one per session, and
// drives their backoff timers through a SystemLayer so tests can control
// timing deterministically.
type RetransmitTable struct {
	entries map[uint16]*RetransmitEntry
	backoff *BackoffCalculator
	system  SystemLayer

	mu sync.Mutex
}

// NewRetransmitTable creates a retransmit table. A nil system defaults to
// RealSystemLayer.
func NewRetransmitTable(system SystemLayer) *RetransmitTable {
	if system == nil {
		system = RealSystemLayer{}
	}
	return &RetransmitTable{
		entries: make(map[uint16]*RetransmitEntry),
		backoff: NewBackoffCalculator(nil),
		system:  system,
	}
}

// Track registers message for retransmission on localSessionID. onTimeout
// fires each time the backoff interval elapses without an Ack call; the
// caller resends and calls ScheduleRetransmit to arm the next interval, or
// treats delivery as failed once ScheduleRetransmit reports exhaustion.
//
// Returns ErrPendingRetransmit if localSessionID already has an outstanding
// reliable send.
func (t *RetransmitTable) Track(
	localSessionID uint16,
	messageCounter uint32,
	message []byte,
	peer transport.PeerAddress,
	baseInterval time.Duration,
	onTimeout func(entry *RetransmitEntry),
) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[localSessionID]; exists {
		return ErrPendingRetransmit
	}

	entry := &RetransmitEntry{
		LocalSessionID: localSessionID,
		MessageCounter: messageCounter,
		Message:        message,
		PeerAddress:    peer,
		SendCount:      1,
	}
	entry.stop = t.system.AfterFunc(t.backoff.Calculate(baseInterval, 0), func() {
		onTimeout(entry)
	})

	t.entries[localSessionID] = entry
	return nil
}

// AckCounter clears the pending entry for localSessionID if its
// MessageCounter matches counter, stopping its timer. Returns true if an
// entry was cleared.
func (t *RetransmitTable) AckCounter(localSessionID uint16, counter uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[localSessionID]
	if !ok || entry.MessageCounter != counter {
		return false
	}
	entry.Stop()
	delete(t.entries, localSessionID)
	return true
}

// ScheduleRetransmit bumps the entry's SendCount and restarts its timer at
// the next backoff interval. Returns false, removing the entry, once
// SendCount has reached MRPMaxTransmissions.
func (t *RetransmitTable) ScheduleRetransmit(localSessionID uint16, baseInterval time.Duration, onTimeout func(entry *RetransmitEntry)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[localSessionID]
	if !ok {
		return false
	}

	entry.SendCount++
	if entry.SendCount >= MRPMaxTransmissions {
		entry.Stop()
		delete(t.entries, localSessionID)
		return false
	}

	entry.Stop()
	entry.stop = t.system.AfterFunc(t.backoff.Calculate(baseInterval, entry.SendCount-1), func() {
		onTimeout(entry)
	})
	return true
}

// HasPending returns true if localSessionID has an outstanding reliable send.
func (t *RetransmitTable) HasPending(localSessionID uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[localSessionID]
	return ok
}

// Remove cancels and discards the pending entry for localSessionID, if any.
// Called when the session is expired or shifted away.
func (t *RetransmitTable) Remove(localSessionID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[localSessionID]
	if !ok {
		return
	}
	entry.Stop()
	delete(t.entries, localSessionID)
}

// Count returns the number of sessions with a pending retransmit.
func (t *RetransmitTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear cancels every pending timer and empties the table. Used on shutdown.
func (t *RetransmitTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, entry := range t.entries {
		entry.Stop()
		delete(t.entries, id)
	}
}
