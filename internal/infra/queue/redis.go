package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-channel-digest/internal/domain"
)

// RedisPostQueue реализует очередь входящих постов на базе Redis lists.
type RedisPostQueue struct {
	client *redis.Client
	key    string
}

// NewRedisPostQueue создаёт очередь по указанному ключу.
func NewRedisPostQueue(client *redis.Client, key string) *RedisPostQueue {
	return &RedisPostQueue{client: client, key: key}
}

// Enqueue публикует пост в очередь.
func (q *RedisPostQueue) Enqueue(ctx context.Context, post domain.InboundPost) error {
	payload, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("marshal post: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push post: %w", err)
	}
	return nil
}

// Pop блокирующе читает пост из очереди.
func (q *RedisPostQueue) Pop(ctx context.Context) (domain.InboundPost, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.InboundPost{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.InboundPost{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.InboundPost{}, err
		}
		if len(res) != 2 {
			return domain.InboundPost{}, errors.New("redis queue: unexpected response")
		}
		var post domain.InboundPost
		if err := json.Unmarshal([]byte(res[1]), &post); err != nil {
			return domain.InboundPost{}, fmt.Errorf("decode post: %w", err)
		}
		return post, nil
	}
}
