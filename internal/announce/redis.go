// SPDX-License-Identifier: MIT
package announce

import (
	"context"
	"time"

	applog "bandcast/internal/log"

	"github.com/go-redis/redis/v8"
)

// RedisAnnouncer publishes the announcement as JSON on a Redis channel on
// every interval, and a final "down" message on shutdown.
type RedisAnnouncer struct {
	client   *redis.Client
	channel  string
	interval time.Duration
	a        Announcement
	log      *applog.Logger
}

// NewRedisAnnouncer connects lazily to addr. Nothing is dialed until Run.
func NewRedisAnnouncer(addr, channel string, interval time.Duration, a Announcement) *RedisAnnouncer {
	return &RedisAnnouncer{
		client: redis.NewClient(&redis.Options{
			Addr:        addr,
			DialTimeout: time.Second,
			MaxRetries:  -1,
		}),
		channel:  channel,
		interval: interval,
		a:        a,
		log:      applog.New("RedisAnnouncer"),
	}
}

// Run publishes until ctx is done. Publish failures are logged and retried
// on the next tick.
func (r *RedisAnnouncer) Run(ctx context.Context) error {
	defer r.client.Close()
	r.log.Infof("announcing %s on %s every %s", r.a.Name, r.channel, r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	failing := false
	for {
		err := r.publish(ctx, StatusUp)
		switch {
		case err != nil && !failing:
			r.log.Warnf("publish to %s failed: %v", r.channel, err)
			failing = true
		case err == nil && failing:
			r.log.Infof("publishing to %s again", r.channel)
			failing = false
		}

		select {
		case <-ctx.Done():
			bye, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := r.publish(bye, StatusDown); err != nil && !failing {
				r.log.Warnf("final publish failed: %v", err)
			}
			return nil
		case <-ticker.C:
		}
	}
}

func (r *RedisAnnouncer) publish(ctx context.Context, status string) error {
	msg, err := r.a.Marshal(status, time.Now())
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, msg).Err()
}
