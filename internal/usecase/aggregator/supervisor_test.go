package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-digest/internal/domain"
)

func testSupervisor(gen domain.Generator, pub domain.Publisher) *Supervisor {
	producer := NewProducer(gen, pub, zerolog.Nop())
	return NewSupervisor(producer, zerolog.Nop(), Options{
		PollEvery:     5 * time.Millisecond,
		Heartbeat:     time.Hour,
		ShutdownGrace: 2 * time.Second,
	})
}

func configFor(target string, interval int, sources ...string) domain.ChannelConfig {
	return domain.ChannelConfig{
		Target:          target,
		Sources:         sources,
		AgentID:         "gpt-4.1-mini",
		IntervalMinutes: interval,
	}
}

func TestSupervisorRegisterDuplicate(t *testing.T) {
	sup := testSupervisor(&stubGenerator{text: "дайджест"}, &stubPublisher{})
	defer sup.Close(context.Background())

	if err := sup.Register(configFor("mydigest", 60, "technews")); err != nil {
		t.Fatalf("первая регистрация: %v", err)
	}
	err := sup.Register(configFor("mydigest", 30, "gadgets"))
	if !errors.Is(err, domain.ErrDuplicateTarget) {
		t.Fatalf("ожидали ErrDuplicateTarget, получили %v", err)
	}
}

func TestSupervisorUnregisterUnknown(t *testing.T) {
	sup := testSupervisor(&stubGenerator{text: "дайджест"}, &stubPublisher{})
	defer sup.Close(context.Background())

	err := sup.Unregister(context.Background(), "nope")
	if !errors.Is(err, domain.ErrTargetNotFound) {
		t.Fatalf("ожидали ErrTargetNotFound, получили %v", err)
	}
}

func TestSupervisorRouteFanOut(t *testing.T) {
	sup := testSupervisor(&stubGenerator{text: "дайджест"}, &stubPublisher{})
	defer sup.Close(context.Background())

	if err := sup.Register(configFor("alpha", 60, "technews", "gadgets")); err != nil {
		t.Fatalf("регистрация alpha: %v", err)
	}
	if err := sup.Register(configFor("beta", 60, "technews")); err != nil {
		t.Fatalf("регистрация beta: %v", err)
	}
	if err := sup.Register(configFor("gamma", 60, "crypto")); err != nil {
		t.Fatalf("регистрация gamma: %v", err)
	}

	sup.Route("technews", post("общий пост"))
	sup.Route("gadgets", post("только для alpha"))
	sup.Route("unknown", post("никому"))

	statuses := sup.Status()
	if len(statuses) != 3 {
		t.Fatalf("ожидали 3 канала, получили %d", len(statuses))
	}
	// Статусы отсортированы по имени канала.
	byTarget := map[string]int{}
	for i, st := range statuses {
		byTarget[st.Target] = st.Buffered
		if i > 0 && statuses[i-1].Target > st.Target {
			t.Fatalf("статусы не отсортированы: %s после %s", st.Target, statuses[i-1].Target)
		}
	}
	if byTarget["alpha"] != 2 || byTarget["beta"] != 1 || byTarget["gamma"] != 0 {
		t.Fatalf("неожиданное распределение постов: %v", byTarget)
	}
}

func TestSupervisorRestartsCrashedWorkerKeepingBuffer(t *testing.T) {
	panics := make(chan struct{}, 1)
	panics <- struct{}{}
	gen := &stubGenerator{fn: func(domain.DigestRequest) (string, error) {
		select {
		case <-panics:
			panic("генерация сломалась")
		default:
			return "дайджест", nil
		}
	}}
	pub := &stubPublisher{}
	sup := testSupervisor(gen, pub)
	defer sup.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	// Интервал 0: выпуск на каждом опросе.
	if err := sup.Register(configFor("mydigest", 0, "technews")); err != nil {
		t.Fatalf("регистрация: %v", err)
	}
	sup.Route("technews", post("переживёт падение"))

	waitFor(t, 3*time.Second, func() bool { return pub.count() > 0 },
		"перезапущенный воркер не выпустил дайджест из сохранённого буфера")
	if gen.callCount() < 2 {
		t.Fatalf("ожидали повторную генерацию после падения, вызовов: %d", gen.callCount())
	}
}

func TestSupervisorReplaceKeepsBuffer(t *testing.T) {
	sup := testSupervisor(&stubGenerator{text: "дайджест"}, &stubPublisher{})
	defer sup.Close(context.Background())

	if err := sup.Register(configFor("mydigest", 60, "technews")); err != nil {
		t.Fatalf("регистрация: %v", err)
	}
	sup.Route("technews", post("до замены"))

	next := configFor("mydigest", 30, "gadgets")
	if err := sup.Replace(context.Background(), next); err != nil {
		t.Fatalf("замена: %v", err)
	}

	statuses := sup.Status()
	if len(statuses) != 1 {
		t.Fatalf("ожидали один канал, получили %d", len(statuses))
	}
	st := statuses[0]
	if st.IntervalMinutes != 30 || len(st.Sources) != 1 || st.Sources[0] != "gadgets" {
		t.Fatalf("конфигурация не заменилась: %+v", st)
	}
	if st.Buffered != 1 {
		t.Fatalf("буфер должен пережить замену, в нём %d", st.Buffered)
	}

	err := sup.Replace(context.Background(), configFor("nope", 30, "gadgets"))
	if !errors.Is(err, domain.ErrTargetNotFound) {
		t.Fatalf("ожидали ErrTargetNotFound, получили %v", err)
	}
}

func TestSupervisorCloseStopsEverything(t *testing.T) {
	pub := &stubPublisher{}
	sup := testSupervisor(&stubGenerator{text: "дайджест"}, pub)

	if err := sup.Register(configFor("alpha", 60, "technews")); err != nil {
		t.Fatalf("регистрация: %v", err)
	}
	if err := sup.Register(configFor("beta", 60, "gadgets")); err != nil {
		t.Fatalf("регистрация: %v", err)
	}
	sup.Route("technews", post("финальный"))

	if err := sup.Close(context.Background()); err != nil {
		t.Fatalf("остановка: %v", err)
	}
	// Финальный выпуск при остановке не должен потерять буфер.
	if pub.count() != 1 {
		t.Fatalf("ожидали один финальный дайджест, получили %d", pub.count())
	}
	if err := sup.Register(configFor("gamma", 60, "crypto")); !errors.Is(err, ErrClosed) {
		t.Fatalf("после остановки ожидали ErrClosed, получили %v", err)
	}
	if err := sup.Close(context.Background()); err != nil {
		t.Fatalf("повторная остановка должна быть ноопом: %v", err)
	}
}
