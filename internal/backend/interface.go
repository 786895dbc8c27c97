package backend

import (
	"context"

	"collectbook/internal/amqp"
	"collectbook/internal/ports"
	"collectbook/internal/services"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result holds the store and the optional event client built for a process.
type Result struct {
	Store ports.Store
	// AMQP is nil when collection events are disabled.
	AMQP *amqp.Client
	// Ready checks that the store is reachable.
	Ready   func(ctx context.Context) error
	Cleanup CleanupFunc
}

// Publisher returns the event publisher, or a nil interface when events
// are disabled.
func (r *Result) Publisher() services.EventPublisher {
	if r.AMQP == nil {
		return nil
	}
	return r.AMQP
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// AMQP; empty URL disables events
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	// RequireAMQP turns a failed AMQP connection into an error instead of a warning.
	RequireAMQP bool
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
