package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-digest/internal/domain"
)

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	reqs  []domain.DigestRequest
	text  string
	err   error
	fn    func(req domain.DigestRequest) (string, error)
}

func (g *stubGenerator) Generate(_ context.Context, _ string, req domain.DigestRequest) (string, error) {
	g.mu.Lock()
	g.calls++
	g.reqs = append(g.reqs, req)
	fn := g.fn
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return g.text, g.err
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *stubGenerator) lastRequest() domain.DigestRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reqs[len(g.reqs)-1]
}

type stubPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *stubPublisher) Publish(_ context.Context, target, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, target+": "+text)
	return nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func testConfig() domain.ChannelConfig {
	return domain.ChannelConfig{
		Target:          "mydigest",
		Sources:         []string{"technews", "gadgets"},
		AgentID:         "gpt-4.1-mini",
		Theme:           "технологии",
		IntervalMinutes: 60,
	}
}

func testWorker(gen domain.Generator, pub domain.Publisher, buf *Buffer) (*Producer, *Worker) {
	producer := NewProducer(gen, pub, zerolog.Nop())
	worker := newWorker(testConfig(), buf, producer, zerolog.Nop(), time.Millisecond, time.Hour)
	return producer, worker
}

func TestProduceSuccess(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	buf := NewBuffer(past)
	buf.Append(post("один"))
	buf.Append(post("два"))
	buf.Append(post("три"))

	gen := &stubGenerator{text: "готовый дайджест"}
	pub := &stubPublisher{}
	producer, worker := testWorker(gen, pub, buf)

	producer.Produce(context.Background(), worker)

	if pub.count() != 1 {
		t.Fatalf("ожидали одну публикацию, получили %d", pub.count())
	}
	req := gen.lastRequest()
	if req.Stats.TotalPosts != 3 || len(req.Posts) != 3 {
		t.Fatalf("в выпуск должны попасть все 3 поста: %+v", req.Stats)
	}
	if req.Stats.SourceCount != 2 {
		t.Fatalf("ожидали 2 источника, получили %d", req.Stats.SourceCount)
	}
	if req.Theme != "технологии" {
		t.Fatalf("неожиданная тема: %q", req.Theme)
	}
	if buf.Len() != 0 {
		t.Fatalf("после успеха буфер должен опустеть, осталось %d", buf.Len())
	}
	if !buf.LastFlush().After(past) {
		t.Fatal("успех должен сдвинуть таймер выпуска")
	}
}

func TestProduceGenerationFailureKeepsPosts(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	buf := NewBuffer(past)
	buf.Append(post("один"))

	gen := &stubGenerator{err: errors.New("llm недоступен")}
	pub := &stubPublisher{}
	producer, worker := testWorker(gen, pub, buf)

	producer.Produce(context.Background(), worker)

	if pub.count() != 0 {
		t.Fatal("при ошибке генерации публикации быть не должно")
	}
	if buf.Len() != 1 {
		t.Fatalf("посты должны сохраниться для повтора, осталось %d", buf.Len())
	}
	if !buf.LastFlush().Equal(past) {
		t.Fatal("таймер не должен сдвигаться, повтор должен случиться на ближайшем опросе")
	}
}

func TestProducePublishFailureKeepsPosts(t *testing.T) {
	buf := NewBuffer(time.Now().Add(-2 * time.Hour))
	buf.Append(post("один"))

	gen := &stubGenerator{text: "дайджест"}
	pub := &stubPublisher{err: errors.New("telegram недоступен")}
	producer, worker := testWorker(gen, pub, buf)

	producer.Produce(context.Background(), worker)

	if buf.Len() != 1 {
		t.Fatalf("посты должны сохраниться для повтора, осталось %d", buf.Len())
	}
}

func TestProduceEmptyBufferSkipsGeneration(t *testing.T) {
	buf := NewBuffer(time.Now().Add(-2 * time.Hour))
	gen := &stubGenerator{text: "дайджест"}
	pub := &stubPublisher{}
	producer, worker := testWorker(gen, pub, buf)

	producer.Produce(context.Background(), worker)

	if gen.callCount() != 0 {
		t.Fatal("пустой буфер не должен вызывать генерацию")
	}
}

func TestProduceSingleInFlight(t *testing.T) {
	buf := NewBuffer(time.Now().Add(-2 * time.Hour))
	buf.Append(post("один"))

	started := make(chan struct{})
	release := make(chan struct{})
	gen := &stubGenerator{fn: func(domain.DigestRequest) (string, error) {
		close(started)
		<-release
		return "дайджест", nil
	}}
	pub := &stubPublisher{}
	producer, worker := testWorker(gen, pub, buf)

	go producer.Produce(context.Background(), worker)
	<-started

	// Повторный вызов во время генерации должен молча выйти.
	producer.Produce(context.Background(), worker)
	close(release)

	deadline := time.After(2 * time.Second)
	for pub.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("первый выпуск не завершился")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if gen.callCount() != 1 {
		t.Fatalf("на канал допустим один выпуск одновременно, вызовов: %d", gen.callCount())
	}
}

func TestProduceKeepsPostsAppendedDuringGeneration(t *testing.T) {
	buf := NewBuffer(time.Now().Add(-2 * time.Hour))
	buf.Append(post("один"))

	gen := &stubGenerator{fn: func(domain.DigestRequest) (string, error) {
		buf.Append(post("пришёл во время генерации"))
		return "дайджест", nil
	}}
	pub := &stubPublisher{}
	producer, worker := testWorker(gen, pub, buf)

	producer.Produce(context.Background(), worker)

	if buf.Len() != 1 {
		t.Fatalf("пост, пришедший во время генерации, должен ждать следующего выпуска, осталось %d", buf.Len())
	}
}

func TestDistinctSources(t *testing.T) {
	if got := distinctSources([]string{"technews", "TechNews", " gadgets ", ""}); got != 2 {
		t.Fatalf("ожидали 2 уникальных источника, получили %d", got)
	}
}
