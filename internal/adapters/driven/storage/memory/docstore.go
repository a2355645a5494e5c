package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
	"github.com/custodia-labs/invoice-etl/internal/core/ports/driven"
)

// Ensure DocumentStore implements the interface.
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore is an in-memory implementation of driven.DocumentStore.
// Upload failures can be scripted with FailUploads.
type DocumentStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	uploads int

	failures []error
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		objects: make(map[string][]byte),
	}
}

// FailUploads makes the next uploads return errs, one per call, in order.
func (s *DocumentStore) FailUploads(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Upload stores a copy of content under name, replacing any existing object.
func (s *DocumentStore) Upload(ctx context.Context, name string, content []byte) (domain.StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoredObject{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++

	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return domain.StoredObject{}, err
		}
	}

	_, replaced := s.objects[name]
	data := make([]byte, len(content))
	copy(data, content)
	s.objects[name] = data

	return domain.StoredObject{
		Name:     name,
		Location: "memory://" + name,
		Size:     int64(len(data)),
		Replaced: replaced,
	}, nil
}

// Exists reports which names are stored.
func (s *DocumentStore) Exists(_ context.Context, names []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]bool, len(names))
	for _, name := range names {
		_, ok := s.objects[name]
		result[name] = ok
	}
	return result, nil
}

// Validate always succeeds.
func (s *DocumentStore) Validate(_ context.Context) error {
	return nil
}

// Object returns the stored content for name.
func (s *DocumentStore) Object(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[name]
	return data, ok
}

// Len returns the number of stored objects.
func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Uploads returns the number of Upload calls, failed ones included.
func (s *DocumentStore) Uploads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uploads
}
