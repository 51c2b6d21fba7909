package session

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/matterkeep/sessiond/pkg/fabric"
	"github.com/matterkeep/sessiond/pkg/message"
	"github.com/matterkeep/sessiond/pkg/transport"
)

// Manager coordinates session contexts for message encryption/decryption.
// It owns the secure session table, the global message counter used by
// unsecured messages, the message pipeline that turns application payloads
// into wire frames and back, the MRP retransmit tracker, and the periodic
// idle/hang sweep.
//
// The zero-copy concurrency model follows a single-loop design: all
// mutating operations take manager.mu, mirroring how pkg/transport.Pipe
// serializes packet delivery through one processing goroutine.
type Manager struct {
	secure        *Table
	globalCounter *message.GlobalCounter
	retransmit    *RetransmitTable

	system        SystemLayer
	sweepInterval time.Duration
	sweepStop     StopFunc

	sendFunc func(peer transport.PeerAddress, data []byte) error
	log      logging.LeveledLogger
	shutdown bool

	mu sync.Mutex
}

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// MaxSessions limits the number of concurrent secure sessions.
	// Default: DefaultMaxSessions (16)
	MaxSessions int

	// LoggerFactory creates the manager's scoped logger.
	// Defaults to logging.NewDefaultLoggerFactory() when nil.
	LoggerFactory logging.LoggerFactory

	// Send transmits a prepared wire frame to peer. Required for
	// SendPreparedMessage and MRP retransmission; PrepareMessage alone does
	// not need it.
	Send func(peer transport.PeerAddress, data []byte) error

	// System is the clock/timer abstraction driving the idle/hang sweep and
	// MRP retransmit backoff. Defaults to RealSystemLayer{} when nil.
	System SystemLayer

	// SweepInterval is how often the idle sweep checks every live session
	// for OnSessionHang. Default: DefaultSweepInterval (1s).
	SweepInterval time.Duration
}

// NewManager creates a new session manager and starts its idle/hang sweep.
func NewManager(config ManagerConfig) *Manager {
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}
	factory := config.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}
	system := config.System
	if system == nil {
		system = RealSystemLayer{}
	}
	sweepInterval := config.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	m := &Manager{
		secure:        NewTable(config.MaxSessions),
		globalCounter: message.NewGlobalCounter(),
		retransmit:    NewRetransmitTable(system),
		system:        system,
		sweepInterval: sweepInterval,
		sendFunc:      config.Send,
		log:           factory.NewLogger("session"),
	}
	m.sweepStop = system.AfterFunc(sweepInterval, m.runSweep)
	return m
}

// runSweep checks every live session for a hang condition (peer idle past
// ActiveThreshold) and reschedules itself. It is the periodic timer driving
// Delegate.OnSessionHang, per the Spec 4's "inactivity timeout driven by
// periodic sweep on the timer" requirement.
func (m *Manager) runSweep() {
	m.secure.ForEach(func(ctx *SecureContext) bool {
		if ctx.checkHang() {
			ctx.notifyHang()
		}
		return true
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return
	}
	m.sweepStop = m.system.AfterFunc(m.sweepInterval, m.runSweep)
}

// Init resets the manager to a freshly constructed state, discarding any
// sessions it holds. Safe to call before first use; redundant after
// NewManager but pairs with Shutdown for long-lived collaborators that
// get restarted in place.
func (m *Manager) Init() {
	m.mu.Lock()
	if m.sweepStop != nil {
		m.sweepStop()
	}
	m.shutdown = false
	m.secure.Clear()
	m.globalCounter = message.NewGlobalCounter()
	m.retransmit.Clear()
	m.sweepStop = m.system.AfterFunc(m.sweepInterval, m.runSweep)
	m.mu.Unlock()
}

// Shutdown zeroizes and removes every secure session, cancels the idle
// sweep and any pending retransmits, and marks the manager unusable for
// further Prepare/Send/Receive calls. AllocateSessionID and table accessors
// remain usable for inspection after Shutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	if m.sweepStop != nil {
		m.sweepStop()
	}
	m.mu.Unlock()

	m.retransmit.Clear()
	m.secure.ForEach(func(ctx *SecureContext) bool {
		ctx.Expire()
		return true
	})
	m.secure.Clear()
	m.log.Debug("session manager shut down")
}

// AllocateSessionID allocates a new unique session ID.
// Returns ErrSessionTableFull if no more sessions can be added.
func (m *Manager) AllocateSessionID() (uint16, error) {
	return m.secure.AllocateID()
}

// AddSecureContext adds a new secure session context.
// Called after successful PASE/CASE completion.
func (m *Manager) AddSecureContext(ctx *SecureContext) error {
	return m.secure.Add(ctx)
}

// RemoveSecureContext expires a secure session context by local session ID:
// registered holders are notified and the session's keys are zeroized
// before it is dropped from the table.
func (m *Manager) RemoveSecureContext(localSessionID uint16) {
	m.retransmit.Remove(localSessionID)
	m.secure.Expire(localSessionID)
}

// FindSecureContext finds a secure context by local session ID.
// Returns nil if not found.
func (m *Manager) FindSecureContext(localSessionID uint16) *SecureContext {
	return m.secure.FindByLocalID(localSessionID)
}

// FindSecureContextByPeer finds all contexts for a specific peer.
// Returns an empty slice if none found.
func (m *Manager) FindSecureContextByPeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) []*SecureContext {
	return m.secure.FindByPeer(fabricIndex, nodeID)
}

// FindSecureContextByFabric finds all contexts on a specific fabric.
func (m *Manager) FindSecureContextByFabric(fabricIndex fabric.FabricIndex) []*SecureContext {
	return m.secure.FindByFabric(fabricIndex)
}

// SecureSessionCount returns the number of active secure sessions.
func (m *Manager) SecureSessionCount() int {
	return m.secure.Count()
}

// IsSecureTableFull returns true if no more secure sessions can be added.
func (m *Manager) IsSecureTableFull() bool {
	return m.secure.IsFull()
}

// GlobalCounter returns the global message counter for unsecured messages.
// Used during PASE/CASE handshake.
func (m *Manager) GlobalCounter() *message.GlobalCounter {
	return m.globalCounter
}

// NextGlobalCounter returns and increments the global message counter.
func (m *Manager) NextGlobalCounter() (uint32, error) {
	return m.globalCounter.Next()
}

// RemoveFabric expires all sessions on a fabric, notifying holders first.
func (m *Manager) RemoveFabric(fabricIndex fabric.FabricIndex) {
	sessions := m.secure.FindByFabric(fabricIndex)
	for _, ctx := range sessions {
		m.retransmit.Remove(ctx.LocalSessionID())
		ctx.Expire()
	}
	m.secure.RemoveByFabric(fabricIndex)
}

// RemovePeer expires all sessions to a specific peer, notifying holders first.
func (m *Manager) RemovePeer(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) {
	sessions := m.secure.FindByPeer(fabricIndex, nodeID)
	for _, ctx := range sessions {
		m.retransmit.Remove(ctx.LocalSessionID())
		ctx.Expire()
	}
	m.secure.RemoveByPeer(fabricIndex, nodeID)
}

// Clear expires all sessions and resets the manager's counters and pending
// retransmits.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.secure.ForEach(func(ctx *SecureContext) bool {
		ctx.Expire()
		return true
	})

	m.secure.Clear()
	m.globalCounter = message.NewGlobalCounter()
	m.retransmit.Clear()
}

// ForEachSecureSession calls fn for each secure session.
// The callback should not modify the table.
func (m *Manager) ForEachSecureSession(fn func(*SecureContext) bool) {
	m.secure.ForEach(fn)
}

// ShiftToSession discovers every other session sharing newID's (fabric,
// peer node) pair and moves each one's holders onto newID, for the holders
// whose delegate allows it (PolicyShiftToNewSession). Holders whose
// delegate requests PolicyStayAtOldSession remain bound to their old
// session.
//
// An old session is only torn down (notified holders, zeroized, dropped
// from the table) once it has no holders left after the shift. A sticky
// holder keeps its old session live — exactly the SessionShiftingTest
// contract: the old session is never destroyed out from under a holder
// whose policy asked to stay.
//
// Returns ErrSessionNotFound if newID is not present in the table.
func (m *Manager) ShiftToSession(newID uint16) error {
	newCtx := m.secure.FindByLocalID(newID)
	if newCtx == nil {
		return ErrSessionNotFound
	}

	oldSessions := m.secure.FindByPeer(newCtx.FabricIndex(), newCtx.PeerNodeID())
	for _, oldCtx := range oldSessions {
		if oldCtx == newCtx {
			continue
		}

		oldCtx.shiftHoldersTo(newCtx)

		if oldCtx.HolderCount() == 0 {
			m.retransmit.Remove(oldCtx.LocalSessionID())
			m.secure.Expire(oldCtx.LocalSessionID())
		}
	}

	return nil
}

// InjectPaseSessionWithTestKey installs a secure session directly from a
// pre-shared 16-byte key, bypassing the PASE handshake. Intended for test
// harnesses that need a working encrypted channel without running the key
// exchange protocol end to end.
func (m *Manager) InjectPaseSessionWithTestKey(localSessionID, peerSessionID uint16, role SessionRole, key []byte) (*SecureContext, error) {
	ctx, err := NewSecureContext(SecureContextConfig{
		SessionType:    SessionTypePASE,
		Role:           role,
		LocalSessionID: localSessionID,
		PeerSessionID:  peerSessionID,
		I2RKey:         key,
		R2IKey:         key,
		Params:         DefaultParams(),
	})
	if err != nil {
		return nil, err
	}
	if err := m.secure.Add(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

// InjectCaseSessionWithTestKey installs a secure session bound to a fabric
// and peer node, from pre-shared I2R/R2I keys, bypassing the CASE handshake.
func (m *Manager) InjectCaseSessionWithTestKey(
	localSessionID, peerSessionID uint16,
	role SessionRole,
	fabricIndex fabric.FabricIndex,
	localNodeID, peerNodeID fabric.NodeID,
	i2rKey, r2iKey []byte,
) (*SecureContext, error) {
	ctx, err := NewSecureContext(SecureContextConfig{
		SessionType:    SessionTypeCASE,
		Role:           role,
		LocalSessionID: localSessionID,
		PeerSessionID:  peerSessionID,
		I2RKey:         i2rKey,
		R2IKey:         r2iKey,
		FabricIndex:    fabricIndex,
		LocalNodeID:    localNodeID,
		PeerNodeID:     peerNodeID,
		Params:         DefaultParams(),
	})
	if err != nil {
		return nil, err
	}
	if err := m.secure.Add(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

// PrepareMessage encrypts payload for localSessionID's peer, framing it
// with protocol and the session's next message counter. The returned bytes
// are a complete wire frame ready for SendPreparedMessage or direct write
// to a transport.
//
// Returns ErrSessionNotFound if localSessionID has no live session, and
// ErrMessageTooLong if the application payload would exceed the maximum
// UDP message size once headers are added.
func (m *Manager) PrepareMessage(localSessionID uint16, protocol *message.ProtocolHeader, payload []byte, privacy bool) ([]byte, error) {
	if len(payload) > message.MaxUDPMessageSize {
		return nil, ErrMessageTooLong
	}

	ctx := m.secure.FindByLocalID(localSessionID)
	if ctx == nil {
		return nil, ErrSessionNotFound
	}

	header := &message.MessageHeader{
		SessionType: message.SessionTypeUnicast,
		Privacy:     privacy,
	}

	frame, err := ctx.Encrypt(header, protocol, payload, privacy)
	if err != nil {
		return nil, err
	}
	if err := message.ValidateSize(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// PrepareReliableMessage behaves like PrepareMessage, and additionally
// registers the frame for MRP retransmission against peer when
// protocol.Reliability (the R flag) is set. Only one reliable send may be
// outstanding per session at a time; a second call before the first is
// acked or exhausted returns ErrPendingRetransmit.
//
// On repeated timeout without an Ack, the frame is resent via the Send
// function from ManagerConfig up to MRPMaxTransmissions times; once
// exhausted, every registered holder's Delegate.OnFirstMessageDeliveryFailed
// is invoked.
func (m *Manager) PrepareReliableMessage(localSessionID uint16, protocol *message.ProtocolHeader, payload []byte, privacy bool, peer transport.PeerAddress) ([]byte, error) {
	if len(payload) > message.MaxUDPMessageSize {
		return nil, ErrMessageTooLong
	}

	ctx := m.secure.FindByLocalID(localSessionID)
	if ctx == nil {
		return nil, ErrSessionNotFound
	}

	header := &message.MessageHeader{
		SessionType: message.SessionTypeUnicast,
		Privacy:     privacy,
	}

	frame, err := ctx.Encrypt(header, protocol, payload, privacy)
	if err != nil {
		return nil, err
	}
	if err := message.ValidateSize(frame); err != nil {
		return nil, err
	}

	if protocol.Reliability {
		if err := m.retransmit.Track(localSessionID, header.MessageCounter, frame, peer, m.retransmitInterval(ctx), func(entry *RetransmitEntry) {
			m.onRetransmitTimeout(localSessionID, entry)
		}); err != nil {
			return nil, err
		}
	}

	return frame, nil
}

// retransmitInterval picks the session's idle or active MRP base interval
// depending on whether the peer has been heard from recently.
func (m *Manager) retransmitInterval(ctx *SecureContext) time.Duration {
	params := ctx.GetParams()
	if ctx.IsPeerActive() {
		return params.ActiveInterval
	}
	return params.IdleInterval
}

// onRetransmitTimeout resends entry to its peer and reschedules the next
// backoff interval, or, once MRPMaxTransmissions is reached, notifies the
// session's holders that first delivery failed.
func (m *Manager) onRetransmitTimeout(localSessionID uint16, entry *RetransmitEntry) {
	ctx := m.secure.FindByLocalID(localSessionID)
	if ctx == nil {
		m.retransmit.Remove(localSessionID)
		return
	}

	m.mu.Lock()
	send := m.sendFunc
	m.mu.Unlock()
	if send != nil {
		if err := send(entry.PeerAddress, entry.Message); err != nil {
			m.log.Debugf("retransmit to %s failed: %v", entry.PeerAddress, err)
		}
	}

	scheduled := m.retransmit.ScheduleRetransmit(localSessionID, m.retransmitInterval(ctx), func(e *RetransmitEntry) {
		m.onRetransmitTimeout(localSessionID, e)
	})
	if !scheduled {
		ctx.notifyFirstMessageDeliveryFailed()
	}
}

// AckReliableMessage clears the pending retransmit for localSessionID if its
// message counter matches ackedCounter. OnMessageReceived calls this when it
// decodes an acknowledgement for a message this manager sent.
func (m *Manager) AckReliableMessage(localSessionID uint16, ackedCounter uint32) {
	m.retransmit.AckCounter(localSessionID, ackedCounter)
}

// SendPreparedMessage transmits a frame produced by PrepareMessage to peer
// using the Send function supplied in ManagerConfig.
func (m *Manager) SendPreparedMessage(peer transport.PeerAddress, frame []byte) error {
	m.mu.Lock()
	send := m.sendFunc
	shutdown := m.shutdown
	m.mu.Unlock()

	if shutdown {
		return ErrManagerShutdown
	}
	if send == nil {
		return ErrNoSession
	}
	return send(peer, frame)
}

// OnMessageReceived decrypts and validates an incoming wire frame. It looks
// up the secure session by the header's Session ID, decrypts the payload,
// and checks the embedded message counter for replay via the session's
// reception state. Malformed or unauthenticated input never surfaces a
// protocol error back to the sender; callers get an error purely for local
// logging/diagnostics.
func (m *Manager) OnMessageReceived(data []byte) (*message.Frame, *SecureContext, error) {
	var header message.MessageHeader
	n, err := header.Decode(data)
	if err != nil {
		m.log.Debugf("dropping malformed message: %v", err)
		return nil, nil, err
	}
	_ = n

	ctx := m.secure.FindByLocalID(header.SessionID)
	if ctx == nil {
		m.log.Debugf("dropping message for unknown session %d", header.SessionID)
		return nil, nil, ErrSessionNotFound
	}

	frame, err := ctx.Decrypt(data)
	if err != nil {
		m.log.Debugf("dropping undecryptable message on session %d: %v", header.SessionID, err)
		return nil, nil, err
	}

	if frame.Protocol.Acknowledgement {
		m.AckReliableMessage(header.SessionID, frame.Protocol.AckedMessageCounter)
	}

	return frame, ctx, nil
}
