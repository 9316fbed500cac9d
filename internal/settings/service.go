package settings

import (
	"context"
)

// Settings is the single-row runtime configuration read per request, so
// operators can tune retrieval without a restart. Pipeline-shape knobs
// (chunk size, batch size, worker count) stay in environment config.
type Settings struct {
	ID            int     `json:"-"`
	GeminiAPIKey  string  `json:"gemini_api_key"`
	SearchTopK    int     `json:"search_top_k"`
	MinScore      float32 `json:"min_score"`
	ContextBudget int     `json:"context_budget"`
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	return s.repo.Update(ctx, set)
}
