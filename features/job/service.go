package job

import (
	"context"
	"fmt"

	"bidwise/backend/internal/config"
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

// Retry republishes the stored payload to the topic its handler consumes
// from, then removes the dead-letter row. A failed publish keeps the row.
func (s *Service) Retry(ctx context.Context, id string) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	topic, err := topicFor(j.Handler)
	if err != nil {
		return err
	}

	if err := s.pub.Publish(topic, j.Payload); err != nil {
		return err
	}

	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func topicFor(handler string) (string, error) {
	switch handler {
	case HandlerIndexWorker:
		return config.TopicDocumentIndex, nil
	case HandlerAnswerWorker:
		return config.TopicAnswerBatch, nil
	default:
		return "", fmt.Errorf("unknown job handler %q", handler)
	}
}
