package ingest

import (
	"time"

	"github.com/rs/zerolog"

	"tg-channel-digest/internal/domain"
)

type postSink interface {
	Route(origin string, post domain.ChannelPost)
}

// Router раскладывает входящие посты по буферам целевых каналов,
// отбрасывая дубликаты по ссылке на пост.
type Router struct {
	sink   postSink
	dedupe domain.Cache
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRouter создаёт роутер. Кэш может быть nil, тогда дедупликация выключена.
func NewRouter(sink postSink, dedupe domain.Cache, ttl time.Duration, log zerolog.Logger) *Router {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Router{sink: sink, dedupe: dedupe, ttl: ttl, log: log}
}

// Handle обрабатывает один входящий пост.
func (r *Router) Handle(post domain.InboundPost) {
	if r.dedupe == nil || post.Post.Link == "" {
		r.sink.Route(post.Origin, post.Post)
		return
	}
	err := r.dedupe.Once("post:"+post.Post.Link, r.ttl, func() error {
		r.sink.Route(post.Origin, post.Post)
		return nil
	})
	if err != nil {
		// Недоступность кэша не должна терять посты, лучше редкий дубль.
		r.log.Warn().Err(err).Str("link", post.Post.Link).Msg("дедупликация недоступна, пост маршрутизируется напрямую")
		r.sink.Route(post.Origin, post.Post)
	}
}
