// Package matter provides the shared storage, endpoint, and configuration
// plumbing used to assemble a secure session subsystem: a session.Manager,
// a credentials.Issuer, and the attribute-access surface they expose.
//
// # Wiring a session manager
//
//	inst, err := matter.NewInstance(matter.ManagerConfig{
//	    Storage: matter.NewMemoryStorage(),
//	})
//
// # Testing
//
// For testing, use MemoryStorage and pkg/transport's loopback Pipe to
// connect two managers without touching the OS network stack.
package matter
