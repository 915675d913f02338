package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var ErrUnavailable = errors.New("social verifier unavailable")

type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// BreakerVerifier fails fast while the wrapped verifier keeps erroring.
// A missing post is an answer, not a failure, and does not count.
type BreakerVerifier struct {
	inner   Verifier
	breaker *gobreaker.CircuitBreaker[*Post]
}

func NewBreakerVerifier(inner Verifier, cfg BreakerConfig, log *zap.Logger) *BreakerVerifier {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[*Post](gobreaker.Settings{
		Name:        "social-verifier",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrPostNotFound)
		},
	})

	return &BreakerVerifier{inner: inner, breaker: cb}
}

func (b *BreakerVerifier) FetchPost(ctx context.Context, ref PostRef) (*Post, error) {
	post, err := b.breaker.Execute(func() (*Post, error) {
		return b.inner.FetchPost(ctx, ref)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return post, err
}

func (b *BreakerVerifier) State() gobreaker.State {
	return b.breaker.State()
}
