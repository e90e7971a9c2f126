package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-channel-digest/internal/adapters/telegram"
	"tg-channel-digest/internal/domain"
	"tg-channel-digest/internal/infra/metrics"
)

// supervisor управляет воркерами целевых каналов.
type supervisor interface {
	Register(cfg domain.ChannelConfig) error
	Unregister(ctx context.Context, target string) error
	Replace(ctx context.Context, cfg domain.ChannelConfig) error
	Status() []domain.TargetStatus
}

// Handler обслуживает вебхук административного бота.
type Handler struct {
	bot      *tgbotapi.BotAPI
	log      zerolog.Logger
	store    domain.ConfigStore
	resolver domain.ChannelResolver
	sup      supervisor
	admins   map[int64]struct{}
	agentID  string
}

// NewHandler создаёт обработчик. Команды доступны только администраторам
// из списка adminIDs.
func NewHandler(bot *tgbotapi.BotAPI, log zerolog.Logger, store domain.ConfigStore, resolver domain.ChannelResolver, sup supervisor, adminIDs []int64, defaultAgent string) *Handler {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Handler{
		bot:      bot,
		log:      log,
		store:    store,
		resolver: resolver,
		sup:      sup,
		admins:   admins,
		agentID:  defaultAgent,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if !h.isAdmin(msg.From.ID) {
		h.reply(msg.Chat.ID, "Доступ запрещён", nil)
		return
	}
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		h.reply(msg.Chat.ID, h.buildStartMessage(), h.mainKeyboard())
	case strings.HasPrefix(text, "/help"):
		h.reply(msg.Chat.ID, h.buildHelpMessage(), h.mainKeyboard())
	case strings.HasPrefix(text, "/add"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/add"))
		h.handleAdd(ctx, msg.Chat.ID, payload)
	case strings.HasPrefix(text, "/edit"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/edit"))
		h.handleEdit(ctx, msg.Chat.ID, payload)
	case strings.HasPrefix(text, "/remove"):
		target := strings.TrimSpace(strings.TrimPrefix(text, "/remove"))
		h.handleRemove(ctx, msg.Chat.ID, target)
	case strings.HasPrefix(text, "/list"):
		h.handleList(msg.Chat.ID)
	case strings.HasPrefix(text, "/status"):
		h.handleStatus(msg.Chat.ID)
	default:
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help", nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || !h.isAdmin(cb.From.ID) {
		return
	}
	data := cb.Data
	switch {
	case data == "add_hint":
		h.reply(cb.Message.Chat.ID, "Отправьте /add @target @src1,@src2 <интервал_минуты> [агент]", nil)
	case data == "my_channels":
		h.handleList(cb.Message.Chat.ID)
	case data == "status":
		h.handleStatus(cb.Message.Chat.ID)
	case data == "help_menu":
		h.reply(cb.Message.Chat.ID, h.buildHelpMessage(), h.mainKeyboard())
	case strings.HasPrefix(data, "remove:"):
		target := strings.TrimPrefix(data, "remove:")
		h.handleRemove(ctx, cb.Message.Chat.ID, target)
	}
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", strconv.FormatInt(cb.From.ID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось ответить на callback")
	}
}

func (h *Handler) handleAdd(ctx context.Context, chatID int64, payload string) {
	cfg, err := parseChannelArgs(payload, h.agentID)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("%v\nФормат: /add @target @src1,@src2 <интервал_минуты> [агент]", err), nil)
		return
	}
	if err := h.validateChannels(ctx, cfg); err != nil {
		h.reply(chatID, fmt.Sprintf("Проверка каналов не прошла: %v", err), nil)
		return
	}
	if err := h.store.Add(cfg); err != nil {
		if errors.Is(err, domain.ErrDuplicateTarget) {
			h.reply(chatID, fmt.Sprintf("Канал %s уже зарегистрирован. Используйте /edit для изменения.", cfg.Target), nil)
			return
		}
		h.reply(chatID, fmt.Sprintf("Ошибка сохранения: %v", err), nil)
		return
	}
	if err := h.sup.Register(cfg); err != nil {
		h.log.Error().Err(err).Str("target", cfg.Target).Msg("не удалось запустить воркер")
		h.reply(chatID, fmt.Sprintf("Конфигурация сохранена, но воркер не запущен: %v", err), nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Готово: %s, источники %s, интервал %d мин", cfg.Target, strings.Join(cfg.Sources, ", "), cfg.IntervalMinutes), h.mainKeyboard())
}

func (h *Handler) handleEdit(ctx context.Context, chatID int64, payload string) {
	cfg, err := parseChannelArgs(payload, h.agentID)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("%v\nФормат: /edit @target @src1,@src2 <интервал_минуты> [агент]", err), nil)
		return
	}
	if err := h.validateChannels(ctx, cfg); err != nil {
		h.reply(chatID, fmt.Sprintf("Проверка каналов не прошла: %v", err), nil)
		return
	}
	if err := h.store.Replace(cfg); err != nil {
		if errors.Is(err, domain.ErrTargetNotFound) {
			h.reply(chatID, fmt.Sprintf("Канал %s не зарегистрирован. Используйте /add.", cfg.Target), nil)
			return
		}
		h.reply(chatID, fmt.Sprintf("Ошибка сохранения: %v", err), nil)
		return
	}
	if err := h.sup.Replace(ctx, cfg); err != nil {
		h.log.Error().Err(err).Str("target", cfg.Target).Msg("не удалось перезапустить воркер")
		h.reply(chatID, fmt.Sprintf("Конфигурация сохранена, но воркер не перезапущен: %v", err), nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Обновлено: %s", cfg.Target), h.mainKeyboard())
}

func (h *Handler) handleRemove(ctx context.Context, chatID int64, target string) {
	target = strings.TrimSpace(target)
	if target == "" {
		h.reply(chatID, "Отправьте /remove @target", nil)
		return
	}
	if err := h.store.Remove(target); err != nil {
		if errors.Is(err, domain.ErrTargetNotFound) {
			h.reply(chatID, fmt.Sprintf("Канал %s не найден", target), nil)
			return
		}
		h.reply(chatID, fmt.Sprintf("Ошибка удаления: %v", err), nil)
		return
	}
	if err := h.sup.Unregister(ctx, normalizeAlias(target)); err != nil && !errors.Is(err, domain.ErrTargetNotFound) {
		h.log.Error().Err(err).Str("target", target).Msg("не удалось остановить воркер")
	}
	h.reply(chatID, fmt.Sprintf("Канал %s удалён, воркер остановлен", target), h.mainKeyboard())
}

func (h *Handler) handleList(chatID int64) {
	configs, err := h.store.List()
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Ошибка: %v", err), nil)
		return
	}
	if len(configs) == 0 {
		h.reply(chatID, "Каналы пока не зарегистрированы. Используйте /add", nil)
		return
	}
	var b strings.Builder
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(configs))
	for i, cfg := range configs {
		b.WriteString(fmt.Sprintf("%d. @%s — источники: %s, интервал %d мин", i+1, cfg.Target, strings.Join(cfg.Sources, ", "), cfg.IntervalMinutes))
		if cfg.Theme != "" {
			b.WriteString(fmt.Sprintf(", тема: %s", cfg.Theme))
		}
		b.WriteString("\n")
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 "+cfg.Target, "remove:"+cfg.Target),
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(keyboard...)
	h.reply(chatID, b.String(), &markup)
}

func (h *Handler) handleStatus(chatID int64) {
	statuses := h.sup.Status()
	if len(statuses) == 0 {
		h.reply(chatID, "Активных воркеров нет", nil)
		return
	}
	var b strings.Builder
	for _, st := range statuses {
		b.WriteString(formatStatus(st))
		b.WriteString("\n")
	}
	h.reply(chatID, b.String(), nil)
}

// validateChannels проверяет целевой канал и источники через MTProto:
// целевой канал должен существовать, на источники выполняется подписка.
func (h *Handler) validateChannels(ctx context.Context, cfg domain.ChannelConfig) error {
	meta, err := h.resolver.ResolveChannel(ctx, cfg.Target)
	if err != nil {
		return err
	}
	if !meta.Broadcast {
		return fmt.Errorf("@%s не является каналом", cfg.Target)
	}
	for _, src := range cfg.Sources {
		srcMeta, err := h.resolver.ResolveChannel(ctx, src)
		if err != nil {
			return err
		}
		if err := h.resolver.JoinChannel(ctx, srcMeta); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) isAdmin(userID int64) bool {
	_, ok := h.admins[userID]
	return ok
}

// parseChannelArgs разбирает аргументы /add и /edit:
// @target @src1,@src2 <интервал_минуты> [агент].
func parseChannelArgs(payload, defaultAgent string) (domain.ChannelConfig, error) {
	fields := strings.Fields(payload)
	if len(fields) < 3 {
		return domain.ChannelConfig{}, errors.New("недостаточно аргументов")
	}
	target := normalizeAlias(fields[0])
	if target == "" {
		return domain.ChannelConfig{}, errors.New("пустой целевой канал")
	}

	var sources []string
	seen := make(map[string]struct{})
	for _, raw := range strings.Split(fields[1], ",") {
		alias := normalizeAlias(raw)
		if alias == "" {
			continue
		}
		if alias == target {
			return domain.ChannelConfig{}, errors.New("целевой канал не может быть источником")
		}
		if _, ok := seen[alias]; ok {
			continue
		}
		seen[alias] = struct{}{}
		sources = append(sources, alias)
	}
	if len(sources) == 0 {
		return domain.ChannelConfig{}, errors.New("не указаны каналы-источники")
	}

	interval, err := strconv.Atoi(fields[2])
	if err != nil || interval < 1 {
		return domain.ChannelConfig{}, errors.New("интервал должен быть целым числом минут, не меньше 1")
	}

	agent := defaultAgent
	if len(fields) > 3 {
		agent = fields[3]
	}
	theme := ""
	if len(fields) > 4 {
		theme = strings.Join(fields[4:], " ")
	}

	return domain.ChannelConfig{
		Target:          target,
		Sources:         sources,
		AgentID:         agent,
		Theme:           theme,
		IntervalMinutes: interval,
	}, nil
}

func normalizeAlias(raw string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
}

func formatStatus(st domain.TargetStatus) string {
	next := "сейчас"
	due := st.LastFlush.Add(time.Duration(st.IntervalMinutes) * time.Minute)
	if remaining := time.Until(due); remaining > 0 {
		next = fmt.Sprintf("через %s", remaining.Round(time.Second))
	}
	return fmt.Sprintf("@%s: %s, источники: %s, интервал %d мин, в буфере %d, последний выпуск %s, следующий %s",
		st.Target, st.State, strings.Join(st.Sources, ", "), st.IntervalMinutes, st.Buffered,
		st.LastFlush.UTC().Format("15:04:05"), next)
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func (h *Handler) mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Добавить канал", "add_hint"),
			tgbotapi.NewInlineKeyboardButtonData("📚 Каналы", "my_channels"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Статус", "status"),
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Помощь", "help_menu"),
		),
	)
	return &buttons
}

func (h *Handler) buildStartMessage() string {
	return strings.Join([]string{
		"Бот агрегирует посты каналов-источников и публикует дайджесты.",
		"",
		"Зарегистрируйте целевой канал командой /add и добавьте бота в него администратором.",
		"Подробности: /help",
	}, "\n")
}

func (h *Handler) buildHelpMessage() string {
	return strings.Join([]string{
		"Команды:",
		"/add @target @src1,@src2 <интервал_минуты> [агент] [тема] — зарегистрировать целевой канал",
		"/edit @target @src1,@src2 <интервал_минуты> [агент] [тема] — изменить конфигурацию",
		"/remove @target — удалить канал и остановить воркер",
		"/list — список зарегистрированных каналов",
		"/status — состояние воркеров и буферов",
	}, "\n")
}
