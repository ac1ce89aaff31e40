package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

// StatsTTL is how long aggregate counts are served from memory.
const StatsTTL = 30 * time.Second

const statsKey = "global"

// StatsService serves /api/v1/stats through a short-lived cache. The counts
// are derived data, so a few seconds of staleness is fine and each process
// keeps its own copy.
type StatsService struct {
	repo  repository.StatsRepository
	cache *expirable.LRU[string, *model.Stats]
}

func NewStatsService(repo repository.StatsRepository, ttl time.Duration) *StatsService {
	return &StatsService{
		repo:  repo,
		cache: expirable.NewLRU[string, *model.Stats](1, nil, ttl),
	}
}

func (s *StatsService) Get(ctx context.Context) (*model.Stats, error) {
	if st, ok := s.cache.Get(statsKey); ok {
		return st, nil
	}
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Add(statsKey, st)
	return st, nil
}

// Invalidate drops the cached value.
func (s *StatsService) Invalidate() {
	s.cache.Purge()
}
