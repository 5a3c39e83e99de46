// Package history keeps past optimization results so clients can fetch
// them again by ID.
package history

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/wayforge/wayforge/internal/optimizer"
)

// ErrNotFound is returned when no result exists for an ID.
var ErrNotFound = errors.New("optimization not found")

// Repository stores optimization results.
type Repository interface {
	// Save stores a result. Saving the same ID twice replaces it.
	Save(ctx context.Context, result *optimizer.Result) error

	// Get returns a stored result or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*optimizer.Result, error)
}
