package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore is an in-process ObjectStore for tests and offline runs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	nextID  int
	// byName maps folder/name to object id.
	byName map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		byName:  make(map[string]string),
	}
}

func (s *MemoryStore) Find(_ context.Context, folderID string, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byName[folderID+"/"+name]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) Upload(_ context.Context, folderID string, name string, _ string, content io.Reader) (string, error) {
	payload, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := fmt.Sprintf("obj-%d", s.nextID)
	s.objects[id] = payload
	s.byName[folderID+"/"+name] = id
	return id, nil
}

func (s *MemoryStore) PublicURL(_ context.Context, objectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[objectID]; !ok {
		return "", ErrNotFound
	}
	return "memory://" + objectID, nil
}

// Object returns the stored payload, for test assertions.
func (s *MemoryStore) Object(objectID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, ok := s.objects[objectID]
	return payload, ok
}
