package aggregator

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-digest/internal/domain"
	"tg-channel-digest/internal/infra/metrics"
)

// Producer выпускает дайджесты: снимает посты из буфера, запрашивает текст
// у сервиса генерации и публикует его в целевой канал.
type Producer struct {
	generator domain.Generator
	publisher domain.Publisher
	log       zerolog.Logger
}

// NewProducer создаёт выпускающий сервис.
func NewProducer(generator domain.Generator, publisher domain.Publisher, log zerolog.Logger) *Producer {
	return &Producer{generator: generator, publisher: publisher, log: log}
}

// Produce выполняет одну попытку выпуска для воркера. На один целевой канал
// одновременно идёт не больше одного выпуска; повторный вызов во время
// генерации молча выходит. Ошибки генерации и публикации поглощаются:
// посты остаются в буфере и будут повторены на следующем опросе.
func (p *Producer) Produce(ctx context.Context, w *Worker) {
	if !w.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer w.inFlight.Store(false)

	posts := w.buffer.Drain()
	if len(posts) == 0 {
		p.log.Info().Str("target", w.cfg.Target).Msg("нет постов для дайджеста")
		return
	}

	req := buildRequest(w.cfg, posts)
	start := time.Now()
	text, err := p.generator.Generate(ctx, w.cfg.AgentID, req)
	if err != nil {
		w.buffer.Commit(false)
		metrics.GenerationFailures.Inc()
		p.log.Error().Err(err).
			Str("target", w.cfg.Target).
			Int("posts", len(posts)).
			Msg("не удалось сгенерировать дайджест, посты сохранены")
		return
	}

	if err := p.publisher.Publish(ctx, w.cfg.Target, text); err != nil {
		w.buffer.Commit(false)
		metrics.PublishFailures.Inc()
		p.log.Error().Err(err).
			Str("target", w.cfg.Target).
			Int("posts", len(posts)).
			Msg("не удалось опубликовать дайджест, посты сохранены")
		return
	}

	w.buffer.Commit(true)
	metrics.DigestBuildSeconds.Observe(time.Since(start).Seconds())
	metrics.IncDigestPublished(w.cfg.Target)
	p.log.Info().
		Str("target", w.cfg.Target).
		Int("posts", len(posts)).
		Msg("дайджест опубликован")
}

// buildRequest собирает данные выпуска: тема, источники, посты и сводка.
func buildRequest(cfg domain.ChannelConfig, posts []domain.ChannelPost) domain.DigestRequest {
	return domain.DigestRequest{
		Timestamp: time.Now().UTC(),
		Theme:     cfg.Theme,
		Sources:   append([]string(nil), cfg.Sources...),
		Posts:     posts,
		Stats: domain.DigestStats{
			TotalPosts:  len(posts),
			SourceCount: distinctSources(cfg.Sources),
		},
	}
}

// distinctSources считает уникальные источники: дубликаты в конфигурации не важны.
func distinctSources(sources []string) int {
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		seen[strings.ToLower(strings.TrimSpace(src))] = struct{}{}
	}
	delete(seen, "")
	return len(seen)
}
