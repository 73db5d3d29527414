package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Redis publishes every event as JSON on "<prefix>.<matchID>".
type Redis struct {
	client  redisPublisher
	prefix  string
	timeout time.Duration
}

func NewRedis(url, prefix string) (*Redis, error) {
	if url == "" {
		url = "redis://127.0.0.1:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newRedis(redis.NewClient(opts), prefix), nil
}

func newRedis(c redisPublisher, prefix string) *Redis {
	if prefix == "" {
		prefix = "oraclebluff.match"
	}
	return &Redis{client: c, prefix: prefix, timeout: 2 * time.Second}
}

func (r *Redis) Channel(matchID string) string { return r.prefix + "." + matchID }

func (r *Redis) Notify(ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[notify] redis marshal: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.Channel(ev.MatchID), raw).Err(); err != nil {
		log.Printf("[notify] redis publish %s: %v", ev.Kind, err)
	}
}

func (r *Redis) Close() error { return r.client.Close() }
