package eventbus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/andrej220/rdist/pkg/report"
)

var _ report.Publisher = (*RedisPublisher)(nil)

type redisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisPublisher sends events over Redis pub/sub. The session id is
// appended to the channel name so displays can subscribe to one session
// or pattern-match all of them.
type RedisPublisher struct {
	client  redisClient
	channel string
}

func NewRedisPublisher(ctx context.Context, addr, channel string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, key, payload []byte) error {
	ch := p.channel
	if len(key) > 0 {
		ch = ch + ":" + string(key)
	}
	return p.client.Publish(ctx, ch, payload).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
