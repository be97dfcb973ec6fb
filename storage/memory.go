package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process. Used by tests and local runs without a bucket.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memoryObject{}, now: time.Now}
}

func (s *MemoryStore) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return "mem://" + key, nil
}

func (s *MemoryStore) SignedURL(ctx context.Context, pointer string, ttl time.Duration) (string, error) {
	key, ok := strings.CutPrefix(pointer, "mem://")
	if !ok {
		return "", fmt.Errorf("not a memory pointer: %q", pointer)
	}
	s.mu.RLock()
	_, found := s.objects[key]
	s.mu.RUnlock()
	if !found {
		return "", ErrObjectNotFound
	}
	expires := s.now().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s?expires=%d", url.PathEscape(key), expires), nil
}

func (s *MemoryStore) Delete(ctx context.Context, pointer string) error {
	key, ok := strings.CutPrefix(pointer, "mem://")
	if !ok {
		return fmt.Errorf("not a memory pointer: %q", pointer)
	}
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Len is the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Object returns a copy of the stored bytes.
func (s *MemoryStore) Object(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), o.data...), o.contentType, true
}
