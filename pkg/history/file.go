package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/menta2k/leaf-scanner/internal/utils"
	"github.com/menta2k/leaf-scanner/pkg/types"
)

const (
	opCreate = "create"
	opDelete = "delete"
)

type logEntry struct {
	Op   string                 `json:"op"`
	Item *types.ScanHistoryItem `json:"item,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

var _ Store = (*FileStore)(nil)

// FileStore wraps another Store and appends every change to a JSON-lines log.
// Opening replays the log into the wrapped store.
type FileStore struct {
	wrapped Store
	file    *os.File
	logger  *slog.Logger
	mu      sync.Mutex
}

// OpenFileStore opens (or creates) the log at path
func OpenFileStore(path string, wrapped Store, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	s := &FileStore{wrapped: wrapped, logger: logger}
	if err := s.replay(path); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	s.file = file
	return s, nil
}

// Create stores item and logs it. When the log write fails the item is
// removed again so memory never holds an unlogged record.
func (s *FileStore) Create(ctx context.Context, item types.ScanHistoryItem) (types.ScanHistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.wrapped.Create(ctx, item)
	if err != nil {
		return types.ScanHistoryItem{}, err
	}
	if err := s.appendLocked(logEntry{Op: opCreate, Item: &created}); err != nil {
		if rbErr := s.wrapped.Delete(context.WithoutCancel(ctx), created.ID); rbErr != nil {
			s.logger.Error("failed to roll back unlogged history item", "id", created.ID, "error", rbErr)
		}
		return types.ScanHistoryItem{}, err
	}
	return created, nil
}

func (s *FileStore) List(ctx context.Context, limit int) ([]types.ScanHistoryItem, error) {
	return s.wrapped.List(ctx, limit)
}

// Delete logs the removal before applying it. Replay ignores deletes of
// unknown ids, so a logged delete that then fails is harmless.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendLocked(logEntry{Op: opDelete, ID: id}); err != nil {
		return err
	}
	return s.wrapped.Delete(context.WithoutCancel(ctx), id)
}

// Close closes the log file
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// appendLocked writes one log line. s.mu must be held.
func (s *FileStore) appendLocked(entry logEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return s.file.Sync()
}

func (s *FileStore) replay(path string) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read history file: %w", err)
	}
	defer file.Close()

	ctx := context.Background()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry logEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			s.logger.Warn("skipping unreadable history line", "path", path, "error", err)
			continue
		}
		switch {
		case entry.Op == opCreate && entry.Item != nil:
			_, err = s.wrapped.Create(ctx, *entry.Item)
		case entry.Op == opDelete:
			if err = s.wrapped.Delete(ctx, entry.ID); errors.Is(err, ErrNotFound) {
				err = nil
			}
		default:
			s.logger.Warn("skipping unknown history entry", "path", path, "op", entry.Op)
		}
		if err != nil {
			return fmt.Errorf("failed to replay history: %w", err)
		}
	}
	return scanner.Err()
}
