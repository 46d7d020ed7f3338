package registry

import (
	"context"
	"errors"
)

var ErrTargetNotFound = errors.New("target not found")

// Finder resolves an inbound service name to its catalog entry.
type Finder interface {
	FindByServiceName(ctx context.Context, name string) (*Target, error)
}

// Lister enumerates the whole catalog, for the admin API.
type Lister interface {
	List(ctx context.Context) ([]*Target, error)
}
