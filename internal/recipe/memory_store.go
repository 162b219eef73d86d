package recipe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a process-local Store. Results do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	current *Result
	recipes map[string]*StoredRecipe
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recipes: make(map[string]*StoredRecipe)}
}

func (s *MemoryStore) SaveResult(ctx context.Context, result *Result) error {
	if result == nil || result.Outcome == nil {
		return fmt.Errorf("result has no outcome")
	}
	saved := cloneResult(result)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = saved
	if saved.Outcome.IsFood() {
		s.recipes[saved.ImageHash] = &StoredRecipe{
			ImageHash: saved.ImageHash,
			Record:    cloneRecord(saved.Outcome.Record),
			CreatedAt: saved.CreatedAt,
		}
	}
	return nil
}

func (s *MemoryStore) CurrentResult(ctx context.Context) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, nil
	}
	return cloneResult(s.current), nil
}

func (s *MemoryStore) ClearResult(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetRecipe(ctx context.Context, imageHash string) (*StoredRecipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.recipes[imageHash]
	if !ok {
		return nil, nil
	}
	return &StoredRecipe{ImageHash: sr.ImageHash, Record: cloneRecord(sr.Record), CreatedAt: sr.CreatedAt}, nil
}

func (s *MemoryStore) ListRecipes(ctx context.Context, cuisine, difficulty string) ([]*StoredRecipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipes := make([]*StoredRecipe, 0, len(s.recipes))
	for _, sr := range s.recipes {
		matchCuisine := cuisine == "" || strings.EqualFold(sr.Record.Cuisine, cuisine)
		matchDifficulty := difficulty == "" || strings.EqualFold(sr.Record.Difficulty, difficulty)
		if matchCuisine && matchDifficulty {
			recipes = append(recipes, &StoredRecipe{ImageHash: sr.ImageHash, Record: cloneRecord(sr.Record), CreatedAt: sr.CreatedAt})
		}
	}
	sort.Slice(recipes, func(i, j int) bool {
		if !recipes[i].CreatedAt.Equal(recipes[j].CreatedAt) {
			return recipes[i].CreatedAt.After(recipes[j].CreatedAt)
		}
		return recipes[i].ImageHash < recipes[j].ImageHash
	})
	return recipes, nil
}

func cloneResult(r *Result) *Result {
	c := *r
	if r.Outcome != nil {
		o := *r.Outcome
		o.Record = cloneRecord(r.Outcome.Record)
		c.Outcome = &o
	}
	return &c
}

func cloneRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Ingredients = append([]string(nil), r.Ingredients...)
	c.Steps = append([]string(nil), r.Steps...)
	return &c
}
