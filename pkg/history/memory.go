package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/leaf-scanner/pkg/types"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps history in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	items []types.ScanHistoryItem
	now   func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Create(ctx context.Context, item types.ScanHistoryItem) (types.ScanHistoryItem, error) {
	if err := ctx.Err(); err != nil {
		return types.ScanHistoryItem{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = s.now().UTC()
	}

	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	return item, nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]types.ScanHistoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	s.mu.RLock()
	result := make([]types.ScanHistoryItem, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		result = append(result, s.items[i])
	}
	s.mu.RUnlock()

	// Insertion order breaks timestamp ties
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
