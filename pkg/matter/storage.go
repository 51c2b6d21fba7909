package matter

import (
	"github.com/matterkeep/sessiond/pkg/fabric"
)

// Storage abstracts persistent storage for session-subsystem state.
// Implementations can use files, databases, or in-memory storage.
//
// All methods must be safe for concurrent use.
type Storage interface {
	// Fabric credentials
	LoadFabrics() ([]*fabric.FabricInfo, error)
	SaveFabric(info *fabric.FabricInfo) error
	DeleteFabric(index fabric.FabricIndex) error

	// Message counters (for replay protection)
	LoadCounters() (*CounterState, error)
	SaveCounters(state *CounterState) error

	// KVStore gives access to the raw key/value surface used by
	// credentials.Issuer to persist its CA key material and cached
	// certificates (see the Example* storage key constants in
	// pkg/credentials).
	KVStore
}

// KVStore is a raw byte-string key/value contract. It is the Go-idiomatic
// stand-in for a PersistentStorageDelegate's SyncGetKeyValue/SyncSetKeyValue
// pair: callers own marshaling, the store only copies bytes.
type KVStore interface {
	// Get returns the value stored under key, or ErrKeyNotFound if absent.
	Get(key string) ([]byte, error)
	// Set stores value under key, replacing any prior value.
	Set(key string, value []byte) error
}

// CounterState holds message counter state for persistence.
type CounterState struct {
	// LocalCounter is the next message counter to use for outgoing messages.
	// Per Spec 4.6.1.1, this should be randomly initialized and persisted.
	LocalCounter uint32

	// PeerCounters maps (FabricIndex, NodeID) to last seen peer counter.
	// Used for replay protection per Spec 4.6.5.
	PeerCounters map[PeerKey]uint32
}

// PeerKey identifies a peer for counter tracking.
type PeerKey struct {
	FabricIndex fabric.FabricIndex
	NodeID      fabric.NodeID
}

// NewCounterState creates a new CounterState with initialized maps.
func NewCounterState() *CounterState {
	return &CounterState{
		LocalCounter: 0,
		PeerCounters: make(map[PeerKey]uint32),
	}
}

// Clone creates a deep copy of the counter state.
func (c *CounterState) Clone() *CounterState {
	if c == nil {
		return NewCounterState()
	}

	clone := &CounterState{
		LocalCounter: c.LocalCounter,
		PeerCounters: make(map[PeerKey]uint32, len(c.PeerCounters)),
	}

	for k, v := range c.PeerCounters {
		clone.PeerCounters[k] = v
	}

	return clone
}
