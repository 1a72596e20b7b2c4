package order

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemStore is an in-memory Store and MenuIndex for tests and single-kiosk
// deployments without a database. Safe for concurrent use.
type MemStore struct {
	mu         sync.RWMutex
	orders     map[string]*Order
	embeddings map[string][]float32
}

// Compile-time interface assertions.
var (
	_ Store     = (*MemStore)(nil)
	_ MenuIndex = (*MemStore)(nil)
)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		orders:     make(map[string]*Order),
		embeddings: make(map[string][]float32),
	}
}

// SaveOrder implements Store.
func (s *MemStore) SaveOrder(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	s.orders[o.ID] = &cp
	return nil
}

// GetOrder implements Store.
func (s *MemStore) GetOrder(_ context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	return &cp, nil
}

// OpenOrderForSession implements Store.
func (s *MemStore) OpenOrderForSession(_ context.Context, sessionID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *Order
	for _, o := range s.orders {
		if o.SessionID != sessionID || o.Status != StatusOpen {
			continue
		}
		if newest == nil || o.CreatedAt.After(newest.CreatedAt) {
			newest = o
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	cp.Items = append([]LineItem(nil), newest.Items...)
	return &cp, nil
}

// IndexMenuItem implements MenuIndex.
func (s *MemStore) IndexMenuItem(_ context.Context, itemID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[itemID] = append([]float32(nil), embedding...)
	return nil
}

// SearchMenu implements MenuIndex with an exact cosine-distance scan. Menu
// catalogs are small enough that a linear pass is fine.
func (s *MemStore) SearchMenu(_ context.Context, embedding []float32, topK int) ([]MenuMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]MenuMatch, 0, len(s.embeddings))
	for id, vec := range s.embeddings {
		matches = append(matches, MenuMatch{
			MenuItemID: id,
			Distance:   cosineDistance(embedding, vec),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].MenuItemID < matches[j].MenuItemID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// cosineDistance returns 1 minus the cosine similarity of a and b. Mismatched
// or zero vectors yield the maximum distance 2.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
