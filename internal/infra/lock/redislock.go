// Package lock provides a cross-instance guard backed by Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	"github.com/bryanwahyu/contract-risk/internal/logger"
)

const (
	DefaultTTL  = 5 * time.Minute
	DefaultWait = 2 * time.Minute
	retryEvery  = 250 * time.Millisecond
	callTimeout = 5 * time.Second
)

// RedisGuard implements analysis.FlightGuard. A second caller on the same key
// waits until the first releases or Wait elapses. The holder refreshes the
// lock every TTL/3 so long work never outlives it.
type RedisGuard struct {
	locker *redislock.Client
	Prefix string
	TTL    time.Duration
	Wait   time.Duration
	Log    *logger.Logger
}

func NewRedisGuard(rdb *redis.Client, log *logger.Logger) *RedisGuard {
	return &RedisGuard{
		locker: redislock.New(rdb),
		Prefix: "contract-risk:lock:",
		TTL:    DefaultTTL,
		Wait:   DefaultWait,
		Log:    log,
	}
}

var _ analysis.FlightGuard = (*RedisGuard)(nil)

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	attempts := int(g.Wait / retryEvery)
	l, err := g.locker.Obtain(ctx, g.Prefix+key, g.TTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(retryEvery), attempts),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", analysis.ErrGuardBusy, key)
	}
	if err != nil {
		return nil, err
	}
	return hold(l, key, g.TTL, logger.OrNop(g.Log)), nil
}

// lease is the part of *redislock.Lock a holder needs.
type lease interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
	Release(ctx context.Context) error
}

// hold keeps l alive until the returned release is called. Release is
// idempotent and always runs on a fresh context.
func hold(l lease, key string, ttl time.Duration, log *logger.Logger) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(ttl/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rctx, cancel := context.WithTimeout(context.Background(), callTimeout)
				err := l.Refresh(rctx, ttl, nil)
				cancel()
				if err != nil {
					log.Warn("lock.refresh.failed", "key", key, "error", err)
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			defer cancel()
			if err := l.Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				log.Warn("lock.release.failed", "key", key, "error", err)
			}
		})
	}
}
