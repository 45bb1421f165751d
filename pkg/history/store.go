// Package history records completed scans.
package history

import (
	"context"
	"errors"

	"github.com/menta2k/leaf-scanner/pkg/types"
)

// DefaultLimit caps List when no limit is given
const DefaultLimit = 50

// ErrNotFound is returned by Delete for an unknown id
var ErrNotFound = errors.New("scan history item not found")

// Store persists scan history
type Store interface {
	// Create stores item, filling in ID and Timestamp when they are zero.
	Create(ctx context.Context, item types.ScanHistoryItem) (types.ScanHistoryItem, error)
	// List returns up to limit items, newest first. limit <= 0 means DefaultLimit.
	List(ctx context.Context, limit int) ([]types.ScanHistoryItem, error)
	Delete(ctx context.Context, id string) error
}
