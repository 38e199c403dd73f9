package snapshot

import "context"

// Storage provides persistence for world snapshots.
// Implementations handle atomic storage with automatic backup of previous snapshots.
type Storage interface {
	// Store saves the snapshot, atomically replacing any existing snapshot.
	// The previous snapshot should be preserved as backup if possible.
	Store(ctx context.Context, snapshot *Snapshot) error

	// Load retrieves the current snapshot.
	// Returns ErrSnapshotNotFound if no snapshot exists.
	Load(ctx context.Context) (*Snapshot, error)
}
