package aggregator

import (
	"sync"
	"time"

	"tg-channel-digest/internal/domain"
)

// Buffer накапливает посты одного целевого канала между выпусками дайджеста.
// Добавление и выпуск используют одну критическую секцию, поэтому пост,
// пришедший во время генерации, просто попадает в следующий выпуск.
type Buffer struct {
	mu        sync.Mutex
	posts     []domain.ChannelPost
	drained   int
	lastFlush time.Time
}

// NewBuffer создаёт пустой буфер с заданным временем последнего выпуска.
func NewBuffer(lastFlush time.Time) *Buffer {
	return &Buffer{lastFlush: lastFlush}
}

// Append добавляет пост в конец очереди.
func (b *Buffer) Append(post domain.ChannelPost) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.posts = append(b.posts, post)
}

// Drain снимает копию накопленных постов для выпуска. Пустой буфер сдвигает
// таймер выпуска и возвращает nil. Снятые посты остаются в буфере до Commit.
func (b *Buffer) Drain() []domain.ChannelPost {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.posts) == 0 {
		b.lastFlush = time.Now()
		return nil
	}
	b.drained = len(b.posts)
	out := make([]domain.ChannelPost, b.drained)
	copy(out, b.posts)
	return out
}

// Commit завершает выпуск. При успехе снятые посты удаляются и таймер
// сбрасывается. При неудаче буфер остаётся как был, а таймер не трогается,
// чтобы следующая попытка случилась на ближайшем опросе, а не через полный
// интервал. Повторы не ограничены: без бэкоффа и счётчика попыток.
func (b *Buffer) Commit(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success && b.drained > 0 {
		b.posts = append([]domain.ChannelPost(nil), b.posts[b.drained:]...)
		b.lastFlush = time.Now()
	}
	b.drained = 0
}

// Len возвращает число постов, ожидающих выпуска.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.posts)
}

// LastFlush возвращает время последнего успешного (или пустого) выпуска.
func (b *Buffer) LastFlush() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFlush
}
