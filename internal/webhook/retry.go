package webhook

import (
	"context"
	"time"

	"github.com/suPer8Hu/autoreply-agent/internal/logx"
)

const (
	DefaultRetries      = 3
	DefaultRetryBackoff = 2 * time.Second
)

// Retryable reports whether res failed before anything was stored. Only those
// failures can be run again without duplicating a message or a reply.
func Retryable(res Result) bool {
	if res.Err == nil || res.Step == "validate" {
		return false
	}
	return res.Stage == StageReceived || res.Stage == StageValidated
}

// Retrier runs a message again, in place, when it failed before anything was
// stored. It sits between a Dispatcher and the Pipeline, so later messages of
// the same conversation wait in the lane until the retries are done.
type Retrier struct {
	next    Processor
	retries int
	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewRetrier(next Processor, retries int, backoff time.Duration) *Retrier {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &Retrier{next: next, retries: retries, backoff: backoff, sleep: sleepContext}
}

// Process returns the last attempt's result. Backoff grows linearly.
func (r *Retrier) Process(ctx context.Context, msg InboundMessage) Result {
	res := r.next.Process(ctx, msg)
	for attempt := 1; attempt <= r.retries && Retryable(res); attempt++ {
		logx.Warn().
			Err(res.Err).
			Str("step", res.Step).
			Str("delivery_id", msg.DeliveryID).
			Int("attempt", attempt).
			Msg("retrying message in its lane")
		if err := r.sleep(ctx, r.backoff*time.Duration(attempt)); err != nil {
			return res
		}
		res = r.next.Process(ctx, msg)
	}
	return res
}
