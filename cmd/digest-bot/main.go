package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-channel-digest/internal/adapters/bot"
	"tg-channel-digest/internal/adapters/generator"
	"tg-channel-digest/internal/adapters/mtproto"
	"tg-channel-digest/internal/adapters/telegram"
	"tg-channel-digest/internal/domain"
	"tg-channel-digest/internal/infra/cache"
	"tg-channel-digest/internal/infra/config"
	"tg-channel-digest/internal/infra/db"
	"tg-channel-digest/internal/infra/log"
	"tg-channel-digest/internal/infra/metrics"
	"tg-channel-digest/internal/infra/openai"
	"tg-channel-digest/internal/infra/queue"
	"tg-channel-digest/internal/usecase/aggregator"
	"tg-channel-digest/internal/usecase/configstore"
	"tg-channel-digest/internal/usecase/ingest"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	store := openStore(cfg, logger)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}

	llm := generator.NewLLM(openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout), cfg.OpenAI.Timeout)
	publisher := telegram.NewPublisher(botAPI, logger)
	producer := aggregator.NewProducer(llm, publisher, logger)
	supervisor := aggregator.NewSupervisor(producer, logger, aggregator.Options{
		PollEvery:     cfg.Aggregator.PollEvery,
		Heartbeat:     cfg.Aggregator.Heartbeat,
		ShutdownGrace: cfg.Aggregator.ShutdownGrace,
	})
	go supervisor.Run(ctx)

	registerStored(store, supervisor, logger)

	var dedupe domain.Cache
	if redisClient != nil {
		dedupe = cache.NewRedis(redisClient)
	}
	router := ingest.NewRouter(supervisor, dedupe, cfg.Aggregator.DedupeTTL, logger)

	postQueue := openQueue(cfg, redisClient, logger)
	handle := router.Handle
	if postQueue != nil {
		handle = func(post domain.InboundPost) {
			if err := postQueue.Enqueue(ctx, post); err != nil {
				logger.Error().Err(err).Str("origin", post.Origin).Msg("не удалось поставить пост в очередь")
			}
		}
		consumer := ingest.NewConsumer(postQueue, router, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("потребитель очереди остановлен")
			}
		}()
	}

	reader := mtproto.NewReader(cfg.Telegram.APIID, cfg.Telegram.APIHash, cfg.MTProto.SessionFile, logger, handle)
	go func() {
		if err := reader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("MTProto клиент остановлен")
		}
	}()

	handler := bot.NewHandler(botAPI, logger, store, reader, supervisor, cfg.Telegram.AdminIDs, cfg.OpenAI.Agent)

	r := chi.NewRouter()
	r.Post("/bot/webhook", func(w http.ResponseWriter, req *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handler.HandleUpdate(req.Context(), update)
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("сервис запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("остановка сервиса")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := supervisor.Close(context.Background()); err != nil {
		logger.Error().Err(err).Msg("воркеры остановлены не полностью")
	}
}

// openStore выбирает хранилище конфигураций: Postgres при заданном PG_DSN,
// иначе JSON-файл.
func openStore(cfg config.AppConfig, logger zerolog.Logger) domain.ConfigStore {
	if cfg.PGDSN != "" {
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
		}
		store := configstore.NewPostgres(pool)
		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(schemaCtx); err != nil {
			logger.Fatal().Err(err).Msg("не удалось подготовить схему БД")
		}
		return store
	}
	store, err := configstore.OpenFile(cfg.ChannelsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось открыть файл конфигураций")
	}
	return store
}

// openQueue выбирает очередь постов: RabbitMQ, затем Redis, иначе прямая
// маршрутизация без очереди.
func openQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.PostQueue {
	if cfg.RabbitURL != "" && cfg.Queues.Posts != "" {
		q, err := queue.NewRabbitPostQueue(cfg.RabbitURL, cfg.Queues.ManagementURL, cfg.Queues.Posts)
		if err != nil {
			logger.Fatal().Err(err).Msg("не удалось создать очередь RabbitMQ")
		}
		return q
	}
	if redisClient != nil && cfg.Queues.Posts != "" {
		return queue.NewRedisPostQueue(redisClient, cfg.Queues.Posts)
	}
	return nil
}

// registerStored поднимает воркеры для всех сохранённых конфигураций.
func registerStored(store domain.ConfigStore, sup *aggregator.Supervisor, logger zerolog.Logger) {
	configs, err := store.List()
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось загрузить конфигурации каналов")
	}
	for _, cfg := range configs {
		if err := sup.Register(cfg); err != nil {
			logger.Error().Err(err).Str("target", cfg.Target).Msg("не удалось запустить воркер")
		}
	}
	logger.Info().Int("targets", len(configs)).Msg("конфигурации загружены")
}
