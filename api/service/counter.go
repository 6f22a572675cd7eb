package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"imgbatch/api/repository"
	"imgbatch/internal/counter"
)

// Cache is the optional read-through layer in front of the repository.
type Cache interface {
	Get(ctx context.Context) (counter.Counts, error)
	Set(ctx context.Context, counts counter.Counts) error
}

// Publisher announces new totals to realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, counts counter.Counts) error
}

type PublishFunc func(ctx context.Context, counts counter.Counts) error

func (f PublishFunc) Publish(ctx context.Context, counts counter.Counts) error { return f(ctx, counts) }

type CounterService struct {
	repo      repository.Repository
	cache     Cache
	publisher Publisher
	logger    *zap.Logger
}

// NewCounterService builds the service. cache and publisher may be nil.
func NewCounterService(repo repository.Repository, cache Cache, publisher Publisher, logger *zap.Logger) *CounterService {
	return &CounterService{repo: repo, cache: cache, publisher: publisher, logger: logger}
}

func (s *CounterService) Get(ctx context.Context) (counter.Counts, error) {
	if s.cache != nil {
		if counts, err := s.cache.Get(ctx); err == nil {
			return counts, nil
		}
	}

	counts, err := s.repo.Get(ctx)
	if err != nil {
		return counter.Counts{}, err
	}
	s.remember(ctx, counts)
	return counts, nil
}

func (s *CounterService) Increment(ctx context.Context, files, sizeBytes int64) (counter.Counts, error) {
	counts, err := s.repo.Increment(ctx, files, sizeBytes)
	if err != nil {
		return counter.Counts{}, err
	}
	s.changed(ctx, counts)
	return counts, nil
}

func (s *CounterService) Reset(ctx context.Context) (counter.Counts, error) {
	counts, err := s.repo.Reset(ctx)
	if err != nil {
		return counter.Counts{}, err
	}
	s.logger.Info("Counter reset")
	s.changed(ctx, counts)
	return counts, nil
}

// Apply handles one increment event from the queue. Redelivered events are
// acknowledged without counting twice.
func (s *CounterService) Apply(ctx context.Context, event counter.IncrementEvent) error {
	counts, err := s.repo.ApplyEvent(ctx, event)
	if errors.Is(err, repository.ErrDuplicateEvent) {
		s.logger.Debug("Skipping duplicate increment event", zap.String("event_id", event.EventID))
		return nil
	}
	if err != nil {
		return err
	}
	s.changed(ctx, counts)
	return nil
}

func (s *CounterService) changed(ctx context.Context, counts counter.Counts) {
	s.remember(ctx, counts)
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, counts); err != nil {
		s.logger.Warn("Failed to publish counter update", zap.Error(err))
	}
}

func (s *CounterService) remember(ctx context.Context, counts counter.Counts) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, counts); err != nil {
		s.logger.Warn("Failed to cache counts", zap.Error(err))
	}
}
