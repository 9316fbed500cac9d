package job

import (
	"context"

	"vellum/internal/config"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo Repository
	pub  EventPublisher
}

func NewService(repo Repository, pub EventPublisher) *Service {
	return &Service{repo: repo, pub: pub}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Retry republishes the job's payload on the topic its handler consumes, then
// deletes the record. A dead-lettered embed batch goes back on ingest.embed
// so only the missing chunks are re-run, not the whole document.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	topic := config.TopicIngestTask
	if job.Handler == "embed-batch" {
		topic = config.TopicIngestEmbed
	}
	if err := s.pub.Publish(topic, job.Payload); err != nil {
		return err
	}

	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
