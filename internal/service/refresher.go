package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	defaultRefreshInterval = 25 * time.Minute
	minRefreshInterval     = 30 * time.Second
	refreshTimeout         = 15 * time.Second
)

type TokenRefresher interface {
	Refresh(ctx context.Context) error
	TokenExpiry() (time.Time, bool)
}

// Refresher keeps the access token alive outside the event stream. Each
// round waits 80% of the token's remaining validity when the token can be
// read, otherwise the fallback interval.
type Refresher struct {
	backend  TokenRefresher
	fallback time.Duration
	floor    time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewRefresher(backend TokenRefresher, fallback time.Duration, logger *zap.Logger) *Refresher {
	if fallback <= 0 {
		fallback = defaultRefreshInterval
	}
	return &Refresher{
		backend:  backend,
		fallback: fallback,
		floor:    minRefreshInterval,
		now:      time.Now,
		log:      logger,
	}
}

func (r *Refresher) NextInterval() time.Duration {
	d := r.fallback
	if exp, ok := r.backend.TokenExpiry(); ok {
		if remaining := exp.Sub(r.now()); remaining > 0 {
			d = remaining * 4 / 5
		}
	}
	if d < r.floor {
		d = r.floor
	}
	return d
}

// Run refreshes until ctx ends or a refresh fails. onFailure receives the
// reason to log the user out with.
func (r *Refresher) Run(ctx context.Context, onFailure func(reason string)) {
	for {
		wait := r.NextInterval()
		r.log.Debug("next token refresh", zap.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		err := r.backend.Refresh(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("token refresh failed", zap.Error(err))
			onFailure(SessionExpiredReason)
			return
		}
	}
}
