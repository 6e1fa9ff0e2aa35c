package script

import "context"

// Store is the configuration provider: it owns script definitions and their
// persisted scheduling state. The scheduling core only talks to this interface.
type Store interface {
	Get(ctx context.Context, id int64) (*Script, error)
	GetByName(ctx context.Context, name string) (*Script, error)
	// List returns scripts ordered by name. With activeOnly, only scripts
	// whose scheduling is enabled.
	List(ctx context.Context, activeOnly bool) ([]*Script, error)

	Create(ctx context.Context, s *Script) error
	Update(ctx context.Context, s *Script) error
	Delete(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error

	UpdateState(ctx context.Context, id int64, u StateUpdate) error

	Close() error
}
