package client

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"

	"chat-sync/internal/models"
)

// SnapshotCache persists the conversation list across restarts so the UI has
// something to show immediately. Rehydrated data is never authoritative: the
// engine always revalidates against fetchConversations after loading it.
type SnapshotCache interface {
	Load() ([]models.Conversation, error)
	Save(conversations []models.Conversation) error
}

// FileCache stores the snapshot as a JSON file.
type FileCache struct {
	path string
}

// NewFileCache builds a FileCache at path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Load reads the snapshot; a missing file is not an error.
func (c *FileCache) Load() ([]models.Conversation, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var conversations []models.Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// Save writes the snapshot atomically via a temp file rename.
func (c *FileCache) Save(conversations []models.Conversation) error {
	data, err := json.Marshal(conversations)
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// MemoryCache keeps the snapshot in memory, for tests and for runs that do
// not want persistence.
type MemoryCache struct {
	mu            sync.Mutex
	conversations []models.Conversation
}

// NewMemoryCache builds an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// Load implements SnapshotCache.
func (c *MemoryCache) Load() ([]models.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Conversation, len(c.conversations))
	copy(out, c.conversations)
	return out, nil
}

// Save implements SnapshotCache.
func (c *MemoryCache) Save(conversations []models.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations = make([]models.Conversation, len(conversations))
	copy(c.conversations, conversations)
	return nil
}
