package newsletter

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"eventletter/internal/email"
	"eventletter/internal/metrics"
	"eventletter/internal/models"
	"eventletter/internal/worker"
)

// Store is the subscriber/event surface the pipeline reads from.
type Store interface {
	ListActiveSubscribers(ctx context.Context) ([]models.Subscriber, error)
	GetActiveSubscribersByIDs(ctx context.Context, ids []int64) ([]models.Subscriber, error)
	EventsForCategories(ctx context.Context, categories []string) ([]models.Event, error)
}

// Sender dispatches one rendered message.
type Sender interface {
	SendWithRetry(ctx context.Context, msg email.Message) error
}

// Service is the send pipeline: it resolves matching events per recipient,
// renders the newsletter body, and fans the sends out over a bounded
// worker pool. Individual recipient failures are aggregated into the
// campaign result, never raised past this boundary.
type Service struct {
	store   Store
	sender  Sender
	limiter *rate.Limiter
	workers int
	log     *zap.Logger
}

func New(store Store, sender Sender, limiter *rate.Limiter, workers int, log *zap.Logger) *Service {
	return &Service{
		store:   store,
		sender:  sender,
		limiter: limiter,
		workers: workers,
		log:     log,
	}
}

func (s *Service) SendToAllActiveSubscribers(ctx context.Context) (models.CampaignResult, error) {
	subs, err := s.store.ListActiveSubscribers(ctx)
	if err != nil {
		return models.CampaignResult{}, fmt.Errorf("list active subscribers: %w", err)
	}
	return s.run(ctx, subs), nil
}

func (s *Service) SendToSubscriberIDs(ctx context.Context, ids []int64) (models.CampaignResult, error) {
	subs, err := s.store.GetActiveSubscribersByIDs(ctx, ids)
	if err != nil {
		return models.CampaignResult{}, fmt.Errorf("fetch subscribers by ids: %w", err)
	}
	return s.run(ctx, subs), nil
}

func (s *Service) run(ctx context.Context, subs []models.Subscriber) models.CampaignResult {
	metrics.CampaignsRun.Inc()
	s.log.Info("starting newsletter campaign", zap.Int("subscribers", len(subs)))

	result := worker.Dispatch(ctx, s.workers, s.limiter, subs, s.log, s.sendOne)

	s.log.Info("newsletter campaign finished",
		zap.Int("total", result.Total),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)
	return result
}

func (s *Service) sendOne(ctx context.Context, sub models.Subscriber) error {
	events, err := s.store.EventsForCategories(ctx, sub.Categories)
	if err != nil {
		metrics.EmailFailures.Inc()
		return fmt.Errorf("match events for %s: %w", sub.Email, err)
	}
	if len(events) == 0 {
		// Nothing to announce is not a failure; the recipient is skipped.
		s.log.Debug("no matching events, skipping subscriber",
			zap.String("to", sub.Email),
		)
		return nil
	}

	msg, err := Render(sub, events)
	if err != nil {
		metrics.EmailFailures.Inc()
		return fmt.Errorf("render newsletter for %s: %w", sub.Email, err)
	}

	if err := s.sender.SendWithRetry(ctx, msg); err != nil {
		metrics.EmailFailures.Inc()
		return err
	}

	metrics.EmailsSent.Inc()
	s.log.Info("newsletter sent", zap.String("to", sub.Email), zap.Int("events", len(events)))
	return nil
}
