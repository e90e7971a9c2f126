package domain

import (
	"context"
	"time"
)

// Publisher отправляет готовый текст дайджеста в целевой канал.
type Publisher interface {
	Publish(ctx context.Context, target, text string) error
}

// Generator превращает накопленные посты в текст дайджеста.
type Generator interface {
	Generate(ctx context.Context, agentID string, req DigestRequest) (string, error)
}

// ConfigStore хранит конфигурации целевых каналов.
type ConfigStore interface {
	List() ([]ChannelConfig, error)
	Get(target string) (ChannelConfig, error)
	Add(cfg ChannelConfig) error
	Replace(cfg ChannelConfig) error
	Remove(target string) error
}

// PostQueue — очередь входящих постов между читателем транспорта и агрегатором.
type PostQueue interface {
	Enqueue(ctx context.Context, post InboundPost) error
	Pop(ctx context.Context) (InboundPost, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

// ChannelResolver проверяет каналы перед регистрацией: существование,
// тип и возможность подписаться на источник.
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, alias string) (ChannelMeta, error)
	JoinChannel(ctx context.Context, meta ChannelMeta) error
}
