package catalog

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-process [Store] for single-node deployments and tests.
type MemStore struct {
	mu         sync.RWMutex
	interviews map[string]Interview
	now        func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{interviews: make(map[string]Interview), now: time.Now}
}

// Create implements [Store].
func (s *MemStore) Create(_ context.Context, iv *Interview) error {
	if err := iv.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = s.now().UTC()
	}
	s.interviews[iv.ID] = clone(*iv)
	return nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (*Interview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iv, ok := s.interviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clone(iv)
	return &out, nil
}

// ListByUser implements [Store].
func (s *MemStore) ListByUser(_ context.Context, userID string) ([]Interview, error) {
	return s.filter(func(iv Interview) bool { return iv.UserID == userID }, 0), nil
}

// Latest implements [Store].
func (s *MemStore) Latest(_ context.Context, excludeUserID string, limit int) ([]Interview, error) {
	return s.filter(func(iv Interview) bool {
		return iv.Finalized && iv.UserID != excludeUserID
	}, limit), nil
}

func (s *MemStore) filter(keep func(Interview) bool, limit int) []Interview {
	s.mu.RLock()
	var out []Interview
	for _, iv := range s.interviews {
		if keep(iv) {
			out = append(out, clone(iv))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Interview) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func clone(iv Interview) Interview {
	iv.TechStack = slices.Clone(iv.TechStack)
	iv.Questions = slices.Clone(iv.Questions)
	return iv
}
