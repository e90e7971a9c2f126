package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`

	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token    string  `envconfig:"TG_BOT_TOKEN"`
		APIID    int     `envconfig:"TG_API_ID"`
		APIHash  string  `envconfig:"TG_API_HASH"`
		AdminIDs []int64 `envconfig:"TG_ADMIN_IDS"`
	} `envconfig:""`

	MTProto struct {
		SessionFile string `envconfig:"MTPROTO_SESSION_FILE" default:"mtproto.session"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Agent   string        `envconfig:"OPENAI_DEFAULT_AGENT" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	ChannelsFile string `envconfig:"CHANNELS_FILE" default:"channels.json"`
	PGDSN        string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Posts         string `envconfig:"POSTS_QUEUE_KEY"`
		ManagementURL string `envconfig:"RABBITMQ_MANAGEMENT_URL"`
	} `envconfig:""`

	Aggregator struct {
		PollEvery     time.Duration `envconfig:"AGGREGATOR_POLL_EVERY" default:"10s"`
		Heartbeat     time.Duration `envconfig:"AGGREGATOR_HEARTBEAT" default:"1m"`
		ShutdownGrace time.Duration `envconfig:"AGGREGATOR_SHUTDOWN_GRACE" default:"30s"`
		DedupeTTL     time.Duration `envconfig:"AGGREGATOR_DEDUPE_TTL" default:"24h"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
