package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-channel-digest/internal/infra/metrics"
)

// Publisher отправляет дайджесты в целевые каналы через Bot API.
type Publisher struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

// NewPublisher создаёт издателя.
func NewPublisher(bot *tgbotapi.BotAPI, log zerolog.Logger) *Publisher {
	return &Publisher{bot: bot, log: log}
}

// Publish отправляет текст в канал. Длинный текст режется на части,
// части отправляются по порядку; ошибка прерывает отправку.
func (p *Publisher) Publish(ctx context.Context, target, text string) error {
	parts := SplitMessage(text)
	if len(parts) == 0 {
		return fmt.Errorf("пустой текст дайджеста для %s", target)
	}
	username := normalizeTarget(target)
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessageToChannel(username, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := p.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", username, start, err)
		if err != nil {
			return fmt.Errorf("отправка части %d/%d в %s: %w", i+1, len(parts), username, err)
		}
	}
	p.log.Info().Str("target", username).Int("parts", len(parts)).Msg("дайджест опубликован")
	return nil
}

func normalizeTarget(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return target
	}
	if strings.HasPrefix(target, "@") {
		return target
	}
	return "@" + target
}
