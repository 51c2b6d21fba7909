package session

import "sync"

// NewSessionHandlingPolicy tells the session layer what a Holder wants to
// happen when its session is shifted to a new one for the same peer. The
// default is to shift; a holder that must stick to the session it was
// created with (for example, a handshake in progress) overrides this on
// its Delegate.
type NewSessionHandlingPolicy uint8

const (
	// PolicyShiftToNewSession moves the holder onto the replacement session.
	// Suitable for almost all holders.
	PolicyShiftToNewSession NewSessionHandlingPolicy = iota
	// PolicyStayAtOldSession keeps the holder bound to the session it
	// already has, even after a newer one is established for the same peer.
	PolicyStayAtOldSession
)

// Delegate receives lifecycle notifications for a session a Holder is
// watching. The zero-value default (embed Delegate and override selectively)
// shifts on new sessions and ignores the other events.
type Delegate interface {
	// GetNewSessionHandlingPolicy is consulted by ShiftToSession for every
	// holder that delegates. Implementations must not mutate the session
	// table or any Holder from inside this call.
	GetNewSessionHandlingPolicy() NewSessionHandlingPolicy

	// OnSessionReleased is called when the session backing this holder is
	// being torn down (expired, evicted, or explicitly removed) and the
	// holder will observe a nil session from now on.
	OnSessionReleased()

	// OnFirstMessageDeliveryFailed is called when a reliable (MRP) message
	// sent on this session exhausts its retransmissions without being
	// acknowledged. Implementations must not destroy the session or rebind
	// any Holder from inside this call.
	OnFirstMessageDeliveryFailed()

	// OnSessionHang is called when the peer has gone idle past the
	// session's ActiveThreshold, signaling it may be unresponsive.
	// Implementations must not destroy the session or rebind any Holder
	// from inside this call.
	OnSessionHang()
}

// DefaultDelegate can be embedded to get the "always shift" policy and
// no-op lifecycle hooks, overriding only what's needed.
type DefaultDelegate struct{}

func (DefaultDelegate) GetNewSessionHandlingPolicy() NewSessionHandlingPolicy {
	return PolicyShiftToNewSession
}

func (DefaultDelegate) OnSessionReleased() {}

func (DefaultDelegate) OnFirstMessageDeliveryFailed() {}

func (DefaultDelegate) OnSessionHang() {}

// Holder is a named, weak-style reference into the session table: it
// observes a *SecureContext without owning its lifetime. Sessions keep
// track of their registered holders so that ShiftToSession and session
// removal can notify every observer instead of leaving dangling pointers.
//
// A Holder with no Delegate is a plain observer: it always shifts silently.
// A Holder with a Delegate gets consulted via GetNewSessionHandlingPolicy
// and notified via OnSessionReleased.
type Holder struct {
	mu       sync.RWMutex
	session  *SecureContext
	delegate Delegate
}

// NewHolder creates an unbound holder. Bind it with Grab or GrabWithDelegate.
func NewHolder() *Holder {
	return &Holder{}
}

// NewHolderWithDelegate creates a holder that reports its shift policy and
// release notifications through delegate.
func NewHolderWithDelegate(delegate Delegate) *Holder {
	return &Holder{delegate: delegate}
}

// Grab binds the holder to ctx, registering it with the session so future
// shifts and releases reach this holder.
func (h *Holder) Grab(ctx *SecureContext) {
	h.mu.Lock()
	prev := h.session
	h.session = ctx
	h.mu.Unlock()

	if prev != nil && prev != ctx {
		prev.removeHolder(h)
	}
	if ctx != nil {
		ctx.addHolder(h)
	}
}

// Release detaches the holder from its current session, if any, without
// notifying the delegate (the caller is giving it up voluntarily).
func (h *Holder) Release() {
	h.mu.Lock()
	prev := h.session
	h.session = nil
	h.mu.Unlock()

	if prev != nil {
		prev.removeHolder(h)
	}
}

// Session returns the currently bound session, or nil if unbound or released.
func (h *Holder) Session() *SecureContext {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// HasSession returns true if the holder currently observes a live session.
func (h *Holder) HasSession() bool {
	return h.Session() != nil
}

// policy returns the holder's shift policy, defaulting to shift-always when
// there is no delegate.
func (h *Holder) policy() NewSessionHandlingPolicy {
	h.mu.RLock()
	delegate := h.delegate
	h.mu.RUnlock()
	if delegate == nil {
		return PolicyShiftToNewSession
	}
	return delegate.GetNewSessionHandlingPolicy()
}

// delegateRef returns the holder's delegate, or nil if it has none.
func (h *Holder) delegateRef() Delegate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.delegate
}

// shiftTo rebinds the holder to newCtx without going through Grab's
// register/unregister dance on newCtx (the caller, ShiftToSession, already
// holds newCtx's holder set lock and is iterating it).
func (h *Holder) shiftTo(newCtx *SecureContext) {
	h.mu.Lock()
	h.session = newCtx
	h.mu.Unlock()
}

// notifyReleased clears the holder's session pointer and, if present, calls
// the delegate's OnSessionReleased hook.
func (h *Holder) notifyReleased() {
	h.mu.Lock()
	h.session = nil
	delegate := h.delegate
	h.mu.Unlock()

	if delegate != nil {
		delegate.OnSessionReleased()
	}
}

// addHolder registers a holder as observing this session.
func (s *SecureContext) addHolder(h *Holder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holders = append(s.holders, h)
}

// removeHolder unregisters a holder, preserving registration order of the
// remaining holders.
func (s *SecureContext) removeHolder(h *Holder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.holders {
		if cur == h {
			s.holders = append(s.holders[:i], s.holders[i+1:]...)
			return
		}
	}
}

// HolderCount returns the number of holders currently registered on this
// session. Exposed mainly for tests exercising shift/eviction semantics.
func (s *SecureContext) HolderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.holders)
}

// releaseHolders notifies every registered holder that this session is
// going away, then clears the holder set. Called once, by the Manager,
// right before a session is removed from the table.
func (s *SecureContext) releaseHolders() {
	s.mu.Lock()
	holders := s.holders
	s.holders = nil
	s.mu.Unlock()

	for _, h := range holders {
		h.notifyReleased()
	}
}

// notifyFirstMessageDeliveryFailed calls OnFirstMessageDeliveryFailed on
// every holder with a delegate, without mutating the holder set or session
// state — the callback contract forbids both.
func (s *SecureContext) notifyFirstMessageDeliveryFailed() {
	for _, d := range s.delegateSnapshot() {
		d.OnFirstMessageDeliveryFailed()
	}
}

// notifyHang calls OnSessionHang on every holder with a delegate. Same
// no-mutation contract as notifyFirstMessageDeliveryFailed.
func (s *SecureContext) notifyHang() {
	for _, d := range s.delegateSnapshot() {
		d.OnSessionHang()
	}
}

// delegateSnapshot copies out the delegates of every currently registered
// holder that has one, so callbacks can run without the session's lock held.
func (s *SecureContext) delegateSnapshot() []Delegate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delegates := make([]Delegate, 0, len(s.holders))
	for _, h := range s.holders {
		if d := h.delegateRef(); d != nil {
			delegates = append(delegates, d)
		}
	}
	return delegates
}

// shiftHoldersTo moves every holder whose policy allows it onto newCtx, in
// the order the holders originally registered. Holders that decline the
// shift are left bound to s and remain in s.holders. Returns the set of
// holders that were moved.
func (s *SecureContext) shiftHoldersTo(newCtx *SecureContext) []*Holder {
	s.mu.Lock()
	var stay []*Holder
	var moved []*Holder
	for _, h := range s.holders {
		if h.policy() == PolicyStayAtOldSession {
			stay = append(stay, h)
			continue
		}
		moved = append(moved, h)
	}
	s.holders = stay
	s.mu.Unlock()

	if len(moved) == 0 {
		return nil
	}

	newCtx.mu.Lock()
	for _, h := range moved {
		h.shiftTo(newCtx)
		newCtx.holders = append(newCtx.holders, h)
	}
	newCtx.mu.Unlock()

	return moved
}
