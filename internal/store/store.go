package store

import (
	"context"
	"errors"

	"github.com/blocklab/blocklab/internal/session"
)

// ErrNotFound is returned when no record exists for a session code.
var ErrNotFound = errors.New("session not found")

// Store persists session records keyed by session code. Writes replace the
// whole document; there is no compare-and-swap, so concurrent writers race
// with last-writer-wins semantics. That matches the coordinator's optimistic
// read-modify-write cycle and is accepted at tutorial scale.
type Store interface {
	// Get returns the record for a session code, or ErrNotFound.
	Get(ctx context.Context, code string) (*session.Record, error)

	// Put writes the full record under its session code, creating or
	// replacing it. UpdatedAt is bumped by the store.
	Put(ctx context.Context, rec *session.Record) error

	// Delete removes a record. Deleting a missing code is not an error.
	Delete(ctx context.Context, code string) error

	// List returns all records ordered by updated_at descending.
	List(ctx context.Context) ([]session.Record, error)

	// Close releases resources.
	Close() error
}
