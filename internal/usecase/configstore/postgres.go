package configstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-channel-digest/internal/domain"
	"tg-channel-digest/internal/infra/metrics"
)

// Postgres хранит конфигурации каналов в таблице channel_configs.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.ConfigStore = (*Postgres)(nil)

// NewPostgres создаёт хранилище на основе pgxpool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// EnsureSchema создаёт таблицу, если её ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS channel_configs (
    target           TEXT PRIMARY KEY,
    sources          TEXT[] NOT NULL,
    agent_id         TEXT NOT NULL DEFAULT '',
    theme            TEXT NOT NULL DEFAULT '',
    interval_minutes INT NOT NULL
)
`)
	if err != nil {
		return fmt.Errorf("создание схемы: %w", err)
	}
	return nil
}

// List возвращает все конфигурации, отсортированные по целевому каналу.
func (p *Postgres) List() ([]domain.ChannelConfig, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT target, sources, agent_id, theme, interval_minutes
FROM channel_configs
ORDER BY target
`)
	metrics.ObserveNetworkRequest("postgres", "channel_configs_list", "channel_configs", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChannelConfig
	for rows.Next() {
		var cfg domain.ChannelConfig
		if err := rows.Scan(&cfg.Target, &cfg.Sources, &cfg.AgentID, &cfg.Theme, &cfg.IntervalMinutes); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Get возвращает конфигурацию целевого канала.
func (p *Postgres) Get(target string) (domain.ChannelConfig, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var cfg domain.ChannelConfig
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT target, sources, agent_id, theme, interval_minutes
FROM channel_configs
WHERE target = $1
`, normalizeKey(target)).Scan(&cfg.Target, &cfg.Sources, &cfg.AgentID, &cfg.Theme, &cfg.IntervalMinutes)
	metrics.ObserveNetworkRequest("postgres", "channel_configs_get", "channel_configs", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChannelConfig{}, fmt.Errorf("%s: %w", target, domain.ErrTargetNotFound)
	}
	if err != nil {
		return domain.ChannelConfig{}, err
	}
	return cfg, nil
}

// Add сохраняет новую конфигурацию.
func (p *Postgres) Add(cfg domain.ChannelConfig) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO channel_configs (target, sources, agent_id, theme, interval_minutes)
VALUES ($1, $2, $3, $4, $5)
`, normalizeKey(cfg.Target), cfg.Sources, cfg.AgentID, cfg.Theme, cfg.IntervalMinutes)
	metrics.ObserveNetworkRequest("postgres", "channel_configs_insert", "channel_configs", start, err)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", cfg.Target, domain.ErrDuplicateTarget)
	}
	return err
}

// Replace заменяет существующую конфигурацию.
func (p *Postgres) Replace(cfg domain.ChannelConfig) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE channel_configs
SET sources = $2, agent_id = $3, theme = $4, interval_minutes = $5
WHERE target = $1
`, normalizeKey(cfg.Target), cfg.Sources, cfg.AgentID, cfg.Theme, cfg.IntervalMinutes)
	metrics.ObserveNetworkRequest("postgres", "channel_configs_update", "channel_configs", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", cfg.Target, domain.ErrTargetNotFound)
	}
	return nil
}

// Remove удаляет конфигурацию целевого канала.
func (p *Postgres) Remove(target string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM channel_configs WHERE target = $1
`, normalizeKey(target))
	metrics.ObserveNetworkRequest("postgres", "channel_configs_delete", "channel_configs", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", target, domain.ErrTargetNotFound)
	}
	return nil
}
