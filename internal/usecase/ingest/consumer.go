package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-digest/internal/domain"
)

// Consumer читает посты из очереди и передаёт их роутеру.
type Consumer struct {
	queue  domain.PostQueue
	router *Router
	log    zerolog.Logger
}

// NewConsumer создаёт потребителя очереди.
func NewConsumer(queue domain.PostQueue, router *Router, log zerolog.Logger) *Consumer {
	return &Consumer{queue: queue, router: router, log: log}
}

// Run обрабатывает очередь до отмены контекста.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		post, err := c.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.log.Error().Err(err).Msg("очередь постов недоступна")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		c.router.Handle(post)
	}
}
