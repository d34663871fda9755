package adapters

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"turnmesh/internal/logging"
)

// Reconnect retries dial until it succeeds or ctx is done, backing off
// exponentially from 100ms capped at 1 retry — shaped after the old
// internal/stt/deepgram.go circuit/backoff bookkeeping, reimplemented with
// go-retry instead of a hand-rolled failure-timestamp slice.
func Reconnect(ctx context.Context, component string, dial func(ctx context.Context) error) error {
	b := retry.NewExponential(100 * time.Millisecond)
	b = retry.WithMaxRetries(1, b)

	log := logging.For(component)
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := dial(ctx); err != nil {
			metricAdapterReconnects.WithLabelValues(component).Inc()
			log.Warn().Err(err).Int("attempt", attempt).Msg("adapter dial failed, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
}
