package matter

import "errors"

// Package-level errors.
var (
	// ErrStorageRequired is returned when Storage is nil.
	ErrStorageRequired = errors.New("matter: storage is required")

	// ErrKeyNotFound is returned by KVStore.Get when the key is absent.
	ErrKeyNotFound = errors.New("matter: key not found")

	// ErrFabricNotFound is returned when a fabric is not found.
	ErrFabricNotFound = errors.New("matter: fabric not found")

	// ErrEndpointExists is returned when adding an endpoint with a duplicate ID.
	ErrEndpointExists = errors.New("matter: endpoint already exists")

	// ErrEndpointNotFound is returned when an endpoint is not found.
	ErrEndpointNotFound = errors.New("matter: endpoint not found")
)
