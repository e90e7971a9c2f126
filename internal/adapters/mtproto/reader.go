package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-channel-digest/internal/domain"
	"tg-channel-digest/internal/infra/metrics"
)

// Reader подписан на живые обновления MTProto и передаёт сообщения
// публичных каналов обработчику. Сессия хранится в файле, авторизацию
// нужно выполнить заранее.
type Reader struct {
	client *telegram.Client
	log    zerolog.Logger
	handle func(domain.InboundPost)

	api   *tg.Client
	ready chan struct{}
}

// NewReader создаёт MTProto клиент с файловым хранилищем сессии.
func NewReader(apiID int, apiHash, sessionFile string, log zerolog.Logger, handle func(domain.InboundPost)) *Reader {
	reader := &Reader{log: log, handle: handle, ready: make(chan struct{})}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		reader.onChannelMessage(e, u)
		return nil
	})

	reader.client = telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionFile},
		UpdateHandler:  dispatcher,
	})
	return reader
}

// Run держит соединение открытым до отмены контекста.
func (r *Reader) Run(ctx context.Context) error {
	return r.client.Run(ctx, func(ctx context.Context) error {
		status, err := r.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("проверка авторизации: %w", err)
		}
		if !status.Authorized {
			return errors.New("сессия не авторизована, выполните вход заранее")
		}
		r.api = r.client.API()
		close(r.ready)
		r.log.Info().Msg("mtproto: подключение установлено, слушаем обновления")
		<-ctx.Done()
		return ctx.Err()
	})
}

func (r *Reader) waitReady(ctx context.Context) (*tg.Client, error) {
	select {
	case <-r.ready:
		return r.api, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Reader) onChannelMessage(e tg.Entities, u *tg.UpdateNewChannelMessage) {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return
	}
	channel, ok := e.Channels[peer.ChannelID]
	if !ok || channel.Username == "" {
		return
	}

	post := domain.InboundPost{
		Origin: strings.ToLower(channel.Username),
		Post: domain.ChannelPost{
			ChannelTitle: channel.Title,
			Text:         msg.Message,
			PostedAt:     time.Unix(int64(msg.Date), 0).UTC(),
			Link:         fmt.Sprintf("https://t.me/%s/%d", channel.Username, msg.ID),
			Media:        mediaKind(msg),
		},
	}
	r.handle(post)
}

// mediaKind определяет тип вложения сообщения. Сообщения из альбомов
// помечаются групповым типом по GroupedID.
func mediaKind(msg *tg.Message) domain.MediaKind {
	_, grouped := msg.GetGroupedID()
	media, ok := msg.GetMedia()
	if !ok {
		return ""
	}
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		if grouped {
			return domain.MediaPhotoGroup
		}
		return domain.MediaPhoto
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return domain.MediaDocument
		}
		// Стикеры и гифки тоже несут видеоатрибут, поэтому проверяются первыми.
		var video bool
		for _, attr := range doc.Attributes {
			switch attr.(type) {
			case *tg.DocumentAttributeSticker:
				return domain.MediaSticker
			case *tg.DocumentAttributeAnimated:
				return domain.MediaAnimation
			case *tg.DocumentAttributeVideo:
				video = true
			}
		}
		if video {
			if grouped {
				return domain.MediaVideoGroup
			}
			return domain.MediaVideo
		}
		return domain.MediaDocument
	default:
		return ""
	}
}

// ResolveChannel проверяет, что алиас указывает на существующий канал.
func (r *Reader) ResolveChannel(ctx context.Context, alias string) (domain.ChannelMeta, error) {
	api, err := r.waitReady(ctx)
	if err != nil {
		return domain.ChannelMeta{}, err
	}
	alias = strings.TrimPrefix(strings.TrimSpace(alias), "@")

	start := time.Now()
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: alias})
	metrics.ObserveNetworkRequest("mtproto", "resolve_username", alias, start, err)
	if err != nil {
		return domain.ChannelMeta{}, fmt.Errorf("разрешение @%s: %w", alias, err)
	}
	if len(resolved.Chats) == 0 {
		return domain.ChannelMeta{}, fmt.Errorf("канал @%s не найден", alias)
	}
	channel, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		return domain.ChannelMeta{}, fmt.Errorf("@%s не является каналом", alias)
	}
	return domain.ChannelMeta{
		ID:         channel.ID,
		AccessHash: channel.AccessHash,
		Alias:      strings.ToLower(alias),
		Title:      channel.Title,
		Broadcast:  channel.Broadcast,
	}, nil
}

// JoinChannel подписывает аккаунт на канал, чтобы получать его обновления.
func (r *Reader) JoinChannel(ctx context.Context, meta domain.ChannelMeta) error {
	api, err := r.waitReady(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = api.ChannelsJoinChannel(ctx, &tg.InputChannel{
		ChannelID:  meta.ID,
		AccessHash: meta.AccessHash,
	})
	metrics.ObserveNetworkRequest("mtproto", "join_channel", meta.Alias, start, err)
	if err != nil && !strings.Contains(err.Error(), "USER_ALREADY_PARTICIPANT") {
		return fmt.Errorf("подписка на @%s: %w", meta.Alias, err)
	}
	return nil
}

var _ domain.ChannelResolver = (*Reader)(nil)
