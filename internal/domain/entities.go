package domain

import (
	"strings"
	"time"
)

// MediaKind описывает тип вложения исходного поста.
type MediaKind string

const (
	MediaPhoto      MediaKind = "photo"
	MediaPhotoGroup MediaKind = "photo_group"
	MediaVideo      MediaKind = "video"
	MediaVideoGroup MediaKind = "video_group"
	MediaDocument   MediaKind = "document"
	MediaAnimation  MediaKind = "animation"
	MediaSticker    MediaKind = "sticker"
)

// ChannelPost — один пост исходного канала, собранный для будущего дайджеста.
type ChannelPost struct {
	ChannelTitle string    `json:"channel_title"`
	Text         string    `json:"text,omitempty"`
	PostedAt     time.Time `json:"date"`
	Link         string    `json:"link,omitempty"`
	Media        MediaKind `json:"media_type,omitempty"`
}

// InboundPost — пост вместе с алиасом канала-источника, из которого он пришёл.
type InboundPost struct {
	Origin string      `json:"origin"`
	Post   ChannelPost `json:"post"`
}

// ChannelConfig описывает один целевой канал и его источники.
type ChannelConfig struct {
	Target          string   `json:"target_channel"`
	Sources         []string `json:"source_channels"`
	AgentID         string   `json:"agent_id"`
	Theme           string   `json:"channel_theme,omitempty"`
	IntervalMinutes int      `json:"post_interval_minutes"`
}

// Interval возвращает период выпуска дайджеста.
func (c ChannelConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// HasSource сообщает, входит ли алиас в список источников.
func (c ChannelConfig) HasSource(alias string) bool {
	for _, src := range c.Sources {
		if strings.EqualFold(src, alias) {
			return true
		}
	}
	return false
}

// DigestRequest — данные, из которых сервис генерации строит текст дайджеста.
type DigestRequest struct {
	Timestamp time.Time     `json:"timestamp"`
	Theme     string        `json:"channel_theme,omitempty"`
	Sources   []string      `json:"source_channels"`
	Posts     []ChannelPost `json:"posts"`
	Stats     DigestStats   `json:"stats"`
}

// DigestStats — сводные счётчики по выпуску.
type DigestStats struct {
	TotalPosts  int `json:"total_posts"`
	SourceCount int `json:"channels_count"`
}

// WorkerState — фаза жизненного цикла воркера целевого канала.
type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerRunning  WorkerState = "running"
	WorkerStopping WorkerState = "stopping"
	WorkerStopped  WorkerState = "stopped"
)

// TargetStatus — снимок состояния одного целевого канала.
type TargetStatus struct {
	Target          string
	Sources         []string
	IntervalMinutes int
	Buffered        int
	LastFlush       time.Time
	State           WorkerState
}

// ChannelMeta — метаданные канала, полученные от транспорта при валидации.
type ChannelMeta struct {
	ID         int64
	AccessHash int64
	Alias      string
	Title      string
	Broadcast  bool
}
