package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"eventletter/internal/models"
)

// Dispatch fans a campaign's recipients out to a fixed pool of workers and
// aggregates the outcome. send is invoked once per subscriber; a non-nil
// return is counted as a failure for that recipient only, so one bad
// address never aborts the batch. Context cancellation stops feeding the
// pool; recipients never attempted are counted as failed.
func Dispatch(
	ctx context.Context,
	workers int,
	limiter *rate.Limiter,
	subs []models.Subscriber,
	logger *zap.Logger,
	send func(ctx context.Context, sub models.Subscriber) error,
) models.CampaignResult {

	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan models.Subscriber)
	var sent atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			for sub := range jobs {

				// ----------------------------
				// Rate Limit
				// ----------------------------
				if err := limiter.Wait(ctx); err != nil {
					logger.Warn("rate limiter stopped by context",
						zap.Int("worker_id", id),
						zap.Error(err),
					)
					continue
				}

				// ----------------------------
				// Send
				// ----------------------------
				if err := send(ctx, sub); err != nil {
					logger.Error("newsletter send failed",
						zap.Int("worker_id", id),
						zap.String("to", sub.Email),
						zap.Error(err),
					)
					continue
				}

				sent.Add(1)
			}
		}(i)
	}

feed:
	for _, sub := range subs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- sub:
		}
	}
	close(jobs)
	wg.Wait()

	result := models.CampaignResult{
		Total: len(subs),
		Sent:  int(sent.Load()),
	}
	result.Failed = result.Total - result.Sent
	return result
}
