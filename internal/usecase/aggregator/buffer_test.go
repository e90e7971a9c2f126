package aggregator

import (
	"testing"
	"time"

	"tg-channel-digest/internal/domain"
)

func post(text string) domain.ChannelPost {
	return domain.ChannelPost{
		ChannelTitle: "Tech News",
		Text:         text,
		PostedAt:     time.Now().UTC(),
	}
}

func TestBufferDrainCommitSuccess(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	buf := NewBuffer(past)
	buf.Append(post("один"))
	buf.Append(post("два"))

	drained := buf.Drain()
	if len(drained) != 2 {
		t.Fatalf("ожидали 2 поста, получили %d", len(drained))
	}
	// Пост, пришедший во время генерации, не должен пропасть.
	buf.Append(post("три"))

	buf.Commit(true)
	if got := buf.Len(); got != 1 {
		t.Fatalf("после успешного выпуска должен остаться 1 пост, получили %d", got)
	}
	if !buf.LastFlush().After(past) {
		t.Fatal("успешный выпуск должен сдвинуть таймер")
	}
}

func TestBufferDrainCommitFailure(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	buf := NewBuffer(past)
	buf.Append(post("один"))

	drained := buf.Drain()
	if len(drained) != 1 {
		t.Fatalf("ожидали 1 пост, получили %d", len(drained))
	}
	buf.Append(post("два"))

	buf.Commit(false)
	if got := buf.Len(); got != 2 {
		t.Fatalf("после неудачи посты должны сохраниться, получили %d", got)
	}
	if !buf.LastFlush().Equal(past) {
		t.Fatal("неудачный выпуск не должен трогать таймер, иначе повтор уедет на целый интервал")
	}
}

func TestBufferDrainEmptyAdvancesTimer(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	buf := NewBuffer(past)

	if drained := buf.Drain(); drained != nil {
		t.Fatalf("пустой буфер должен вернуть nil, получили %v", drained)
	}
	if !buf.LastFlush().After(past) {
		t.Fatal("пустой выпуск должен сдвинуть таймер")
	}
}

func TestBufferDrainReturnsCopy(t *testing.T) {
	buf := NewBuffer(time.Now())
	buf.Append(post("один"))

	drained := buf.Drain()
	drained[0].Text = "испорчен"
	buf.Commit(false)

	again := buf.Drain()
	if again[0].Text != "один" {
		t.Fatalf("Drain должен возвращать копию, получили %q", again[0].Text)
	}
}
