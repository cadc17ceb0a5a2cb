// Package store provides snapshot persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/lumenreach/chatwidget/internal/domain"
)

// Repository defines the interface for persisting conversation snapshots.
//
// A snapshot is the sole persisted unit: the full message log plus the
// session and visitor identifiers, keyed by visitor ID and overwritten
// wholesale on every save (last writer wins).
type Repository interface {
	// LoadSnapshot retrieves the stored snapshot for a visitor.
	// Returns (nil, nil) when no snapshot exists or the stored payload is
	// malformed; malformed payloads are logged and treated as absence.
	LoadSnapshot(ctx context.Context, visitorID string) (*domain.Snapshot, error)

	// SaveSnapshot serializes and writes the snapshot, replacing any
	// previous one for the same visitor.
	SaveSnapshot(ctx context.Context, visitorID string, snap *domain.Snapshot) error

	// DeleteSnapshot removes the stored snapshot for a visitor. Deleting a
	// missing snapshot is not an error.
	DeleteSnapshot(ctx context.Context, visitorID string) error

	// PruneSnapshots removes snapshots that have not been written for
	// longer than maxAge, returning the number removed.
	PruneSnapshots(ctx context.Context, maxAge time.Duration) (int64, error)

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying storage.
	Close() error
}
