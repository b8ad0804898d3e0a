package blob

import (
	"encoding/base64"
	"sync"
)

type memoryEntry struct {
	data      []byte
	mediaType string
}

// MemoryStore keeps blobs in process memory. It backs tests and short-lived
// sessions that never need attachments to survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Put(data []byte) (string, error) {
	mediaType, err := DecodeImage(data)
	if err != nil {
		return "", err
	}

	ref := RefForData(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[ref]; !ok {
		stored := make([]byte, len(data))
		copy(stored, data)
		s.entries[ref] = memoryEntry{data: stored, mediaType: mediaType}
	}
	return ref, nil
}

func (s *MemoryStore) Get(ref string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[ref]
	if !ok {
		return nil, "", false
	}
	return entry.data, entry.mediaType, true
}

func (s *MemoryStore) Release(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, ref)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
