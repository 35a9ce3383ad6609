// Package remote provides authenticated file access to the exchange's SFTP
// endpoints with host failover.
package remote

import "context"

// Transport is the file-access contract the watcher and daily jobs consume.
// Implementations return transient errors on network, auth, or protocol
// failure; callers retry on their own cadence.
type Transport interface {
	// List returns the full remote path of every entry under dir.
	List(ctx context.Context, dir string) ([]string, error)

	// Fetch returns the whole file at path.
	Fetch(ctx context.Context, path string) ([]byte, error)

	// Close releases session state.
	Close() error
}
