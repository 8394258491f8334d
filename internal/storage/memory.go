package storage

import (
	"context"
	"sync"

	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/payload"
)

// MemoryStore is an in-memory Store used in tests and ephemeral sessions.
type MemoryStore struct {
	mu       sync.Mutex
	payloads map[string]payload.Raw
	order    []string
	values   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payloads: make(map[string]payload.Raw),
		values:   make(map[string]string),
	}
}

func (s *MemoryStore) GetAllRawPayloads(ctx context.Context) ([]payload.Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]payload.Raw, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.payloads[id])
	}
	return out, nil
}

func (s *MemoryStore) SavePayloads(ctx context.Context, raws []payload.Raw) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range raws {
		if _, seen := s.payloads[raw.UUID]; !seen {
			s.order = append(s.order, raw.UUID)
		}
		s.payloads[raw.UUID] = raw
	}
	return nil
}

func (s *MemoryStore) DeletePayloads(ctx context.Context, uuids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range uuids {
		if _, ok := s.payloads[id]; !ok {
			continue
		}
		delete(s.payloads, id)
		for n, ordered := range s.order {
			if ordered == id {
				s.order = append(s.order[:n], s.order[n+1:]...)
				break
			}
		}
	}
	return nil
}

func (s *MemoryStore) GetValue(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", common.ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) SetValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) RemoveValue(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
