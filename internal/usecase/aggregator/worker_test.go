package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-digest/internal/domain"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWorkerFlushesWhenDue(t *testing.T) {
	// Таймер в прошлом, интервал уже истёк.
	buf := NewBuffer(time.Now().Add(-2 * time.Hour))
	buf.Append(post("один"))

	gen := &stubGenerator{text: "дайджест"}
	pub := &stubPublisher{}
	producer := NewProducer(gen, pub, zerolog.Nop())
	worker := newWorker(testConfig(), buf, producer, zerolog.Nop(), 5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return pub.count() > 0 }, "воркер не выпустил дайджест")
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if st := worker.Status(); st.State != domain.WorkerStopped {
		t.Fatalf("после остановки ожидали состояние stopped, получили %s", st.State)
	}
}

func TestWorkerWaitsForInterval(t *testing.T) {
	// Свежий таймер, интервал 60 минут: выпуска быть не должно.
	buf := NewBuffer(time.Now())
	buf.Append(post("один"))

	gen := &stubGenerator{text: "дайджест"}
	pub := &stubPublisher{}
	producer := NewProducer(gen, pub, zerolog.Nop())
	worker := newWorker(testConfig(), buf, producer, zerolog.Nop(), 5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if gen.callCount() != 0 {
		t.Fatal("интервал не истёк, генерации быть не должно")
	}
	cancel()
	<-done
}

func TestWorkerFinalFlushOnShutdown(t *testing.T) {
	// Интервал не истёк, но при остановке буфер должен быть выпущен.
	buf := NewBuffer(time.Now())
	buf.Append(post("последний"))

	gen := &stubGenerator{text: "дайджест"}
	pub := &stubPublisher{}
	producer := NewProducer(gen, pub, zerolog.Nop())
	worker := newWorker(testConfig(), buf, producer, zerolog.Nop(), time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("финальный выпуск не произошёл, публикаций: %d", pub.count())
	}
	if buf.Len() != 0 {
		t.Fatalf("буфер должен опустеть при остановке, осталось %d", buf.Len())
	}
}

func TestWorkerRecoversPanicAsError(t *testing.T) {
	buf := NewBuffer(time.Now().Add(-2 * time.Hour))
	buf.Append(post("один"))

	gen := &stubGenerator{fn: func(domain.DigestRequest) (string, error) {
		panic("сломался")
	}}
	producer := NewProducer(gen, &stubPublisher{}, zerolog.Nop())
	worker := newWorker(testConfig(), buf, producer, zerolog.Nop(), 5*time.Millisecond, time.Hour)

	err := worker.Run(context.Background())
	if err == nil {
		t.Fatal("паника должна превратиться в ошибку")
	}
	if st := worker.Status(); st.State != domain.WorkerStopped {
		t.Fatalf("после паники ожидали состояние stopped, получили %s", st.State)
	}
	if buf.Len() != 1 {
		t.Fatalf("посты должны пережить панику, осталось %d", buf.Len())
	}
}
