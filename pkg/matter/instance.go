package matter

import (
	"fmt"

	"github.com/matterkeep/sessiond/pkg/credentials"
	"github.com/matterkeep/sessiond/pkg/fabric"
	"github.com/matterkeep/sessiond/pkg/session"
)

// Instance assembles the collaborators a running node needs around its
// secure session subsystem: the fabric table loaded from storage, the
// session.Manager that encrypts/decrypts traffic against it, and the
// credentials.Issuer that mints NOC chains for newly joined fabrics.
//
// It is scoped down to what this package's session-subsystem focus
// needs, not a full node/endpoint assembly.
type Instance struct {
	config ManagerConfig

	Fabrics *fabric.Table
	Sessions *session.Manager
	Issuers map[fabric.FabricID]*credentials.Issuer
}

// NewInstance loads fabric state from config.Storage, constructs the fabric
// table and session manager, and returns the assembled Instance. It does not
// create any credentials.Issuer; call IssuerForFabric to lazily mint one the
// first time a fabric needs to issue NOCs.
func NewInstance(config ManagerConfig) (*Instance, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	fabrics := fabric.NewTable(fabric.DefaultTableConfig())
	loaded, err := config.Storage.LoadFabrics()
	if err != nil {
		return nil, fmt.Errorf("loading fabrics: %w", err)
	}
	for _, info := range loaded {
		if err := fabrics.Add(info); err != nil {
			return nil, fmt.Errorf("restoring fabric %d: %w", info.FabricIndex, err)
		}
	}

	sessions := session.NewManager(session.ManagerConfig{
		MaxSessions:   config.MaxSessions,
		LoggerFactory: config.LoggerFactory,
		System:        config.System,
		SweepInterval: config.SweepInterval,
	})

	return &Instance{
		config:   config,
		Fabrics:  fabrics,
		Sessions: sessions,
		Issuers:  make(map[fabric.FabricID]*credentials.Issuer),
	}, nil
}

// IssuerForFabric returns the credentials.Issuer that mints NOC chains for
// fabricID, creating and initializing one on first use. The issuer persists
// its CA key material through config.Storage's KVStore surface, so it
// survives restarts independently of the fabric table.
func (inst *Instance) IssuerForFabric(fabricID fabric.FabricID, useIntermediate bool) (*credentials.Issuer, error) {
	if iss, ok := inst.Issuers[fabricID]; ok {
		return iss, nil
	}

	iss, err := credentials.NewIssuer(credentials.IssuerConfig{
		Store:           inst.config.Storage,
		FabricID:        fabricID,
		UseIntermediate: useIntermediate,
	})
	if err != nil {
		return nil, err
	}
	if err := iss.Initialize(); err != nil {
		return nil, err
	}

	inst.Issuers[fabricID] = iss
	return iss, nil
}

// EstablishSecureContext creates a secure session context from completed
// PASE/CASE handshake material and adds it to the instance's session
// manager. MRP timing falls back to the instance's configured defaults
// (config.SessionParams()) when cfg.Params is the zero value, so PASE/CASE
// collaborators only need to set it explicitly when overriding the default.
func (inst *Instance) EstablishSecureContext(cfg session.SecureContextConfig) (*session.SecureContext, error) {
	if cfg.Params == (session.Params{}) {
		cfg.Params = inst.config.SessionParams()
	}

	ctx, err := session.NewSecureContext(cfg)
	if err != nil {
		return nil, err
	}
	if err := inst.Sessions.AddSecureContext(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

// PersistCounters saves the session manager's counter state through
// config.Storage, so replay protection survives a restart.
func (inst *Instance) PersistCounters(state *CounterState) error {
	return inst.config.Storage.SaveCounters(state)
}

// Shutdown releases the instance's session manager. Issuers hold no
// transient state beyond what's already persisted via KVStore, so they need
// no explicit shutdown step.
func (inst *Instance) Shutdown() {
	inst.Sessions.Shutdown()
}
