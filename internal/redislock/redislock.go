// Package redislock serializes admissions per date across replicas with Redis.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix  = "bqt:booking:lock:"
	defaultTTL        = 10 * time.Second
	defaultRetryDelay = 25 * time.Millisecond
	releaseTimeout    = 2 * time.Second
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements booking.DateLocker. The TTL must exceed the admission
// timeout so a lock is never lost mid-admission.
type Locker struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets the lock expiry.
func WithTTL(ttl time.Duration) Option {
	return func(locker *Locker) {
		if ttl > 0 {
			locker.ttl = ttl
		}
	}
}

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(locker *Locker) {
		if prefix != "" {
			locker.prefix = prefix
		}
	}
}

// WithRetryDelay sets the poll interval while waiting for a held lock.
func WithRetryDelay(delay time.Duration) Option {
	return func(locker *Locker) {
		if delay > 0 {
			locker.retryDelay = delay
		}
	}
}

// New returns a Locker on client.
func New(client redis.UniversalClient, options ...Option) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis lock requires a client")
	}
	locker := &Locker{client: client, prefix: defaultKeyPrefix, ttl: defaultTTL, retryDelay: defaultRetryDelay}
	for _, option := range options {
		if option != nil {
			option(locker)
		}
	}
	return locker, nil
}

// TTL reports how long a held lock survives without release.
func (locker *Locker) TTL() time.Duration {
	return locker.ttl
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		options, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(options)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	pingContext, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingContext).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Lock blocks until the date's key is acquired or ctx ends.
func (locker *Locker) Lock(ctx context.Context, date booking.Date) (func(), error) {
	key := locker.key(date)
	token := uuid.NewString()
	for {
		acquired, err := locker.client.SetNX(ctx, key, token, locker.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis lock %s: %w", date, err)
		}
		if acquired {
			return locker.releaser(key, token), nil
		}
		timer := time.NewTimer(locker.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (locker *Locker) releaser(key string, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			// A failed release only delays the next holder until the TTL.
			_ = releaseScript.Run(ctx, locker.client, []string{key}, token).Err()
		})
	}
}

func (locker *Locker) key(date booking.Date) string {
	return locker.prefix + date.String()
}
