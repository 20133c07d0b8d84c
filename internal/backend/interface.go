package backend

import (
	"context"

	"participation/internal/store"
)

// Backend is everything the allocation service needs from a data backend.
type Backend interface {
	store.ReferenceReader
	store.AllocationRepository
}

// Pinger is implemented by backends that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend Backend
	Cleanup CleanupFunc
}

// Ready reports whether the backend is reachable. Backends without a
// connection are always ready.
func (r *BackendResult) Ready(ctx context.Context) error {
	if p, ok := r.Backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close runs the cleanup function, if any.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// Memory backend specific
	DataDirectory string

	// SQL specific
	SQLiteDBPath string
	PostgresDSN  string

	// Firestore specific
	FirebaseProjectID       string
	FirebaseCredentialsJSON []byte
	FirebaseCredentialsFile string
	FirestoreEmulatorHost   string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend    BackendType = "memory"
	FirestoreBackend BackendType = "firestore"
	SQLiteBackend    BackendType = "sqlite"
	PostgresBackend  BackendType = "postgres"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, FirestoreBackend, SQLiteBackend, PostgresBackend:
		return true
	default:
		return false
	}
}
