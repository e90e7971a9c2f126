package aggregator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-digest/internal/domain"
)

const (
	defaultPollEvery = 10 * time.Second
	defaultHeartbeat = time.Minute
	finalFlushBudget = time.Minute
)

// Worker ведёт цикл выпуска дайджестов одного целевого канала: опрашивает
// таймер, запускает выпуск, когда интервал истёк, и пишет периодический
// статус в лог.
type Worker struct {
	cfg      domain.ChannelConfig
	buffer   *Buffer
	producer *Producer
	log      zerolog.Logger

	poll      time.Duration
	heartbeat time.Duration
	inFlight  atomic.Bool

	// flushOnExit выключается при замене конфигурации: буфер достаётся
	// новому воркеру, а не выпускается старым.
	flushOnExit atomic.Bool

	mu    sync.Mutex
	state domain.WorkerState
}

func newWorker(cfg domain.ChannelConfig, buffer *Buffer, producer *Producer, log zerolog.Logger, poll, heartbeat time.Duration) *Worker {
	if poll <= 0 {
		poll = defaultPollEvery
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	w := &Worker{
		cfg:       cfg,
		buffer:    buffer,
		producer:  producer,
		log:       log.With().Str("target", cfg.Target).Logger(),
		poll:      poll,
		heartbeat: heartbeat,
		state:     domain.WorkerIdle,
	}
	w.flushOnExit.Store(true)
	return w
}

// Run крутит цикл опроса до отмены контекста. Отмена — единственный штатный
// выход: перед завершением воркер делает финальную попытку выпуска, чтобы не
// потерять собранное. Паника внутри цикла превращается в ошибку и уходит
// супервизору, который решает вопрос перезапуска.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("цикл воркера %s: паника: %v", w.cfg.Target, r)
		}
		w.setState(domain.WorkerStopped)
	}()

	w.setState(domain.WorkerRunning)
	w.log.Info().
		Strs("sources", w.cfg.Sources).
		Int("interval_min", w.cfg.IntervalMinutes).
		Msg("воркер запущен")

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	lastBeat := time.Now()

	for {
		select {
		case <-ctx.Done():
			w.setState(domain.WorkerStopping)
			if w.flushOnExit.Load() {
				w.log.Info().Msg("воркер останавливается, финальный выпуск")
				w.finalFlush()
			}
			return nil
		case <-ticker.C:
			elapsed := time.Since(w.buffer.LastFlush())
			if elapsed >= w.cfg.Interval() && !w.inFlight.Load() {
				w.log.Info().Msg("пора выпускать дайджест")
				w.producer.Produce(ctx, w)
			}
			if time.Since(lastBeat) >= w.heartbeat {
				w.log.Info().
					Float64("elapsed_min", elapsed.Minutes()).
					Int("interval_min", w.cfg.IntervalMinutes).
					Int("buffered", w.buffer.Len()).
					Msg("состояние целевого канала")
				lastBeat = time.Now()
			}
		}
	}
}

// finalFlush выпускает остатки буфера с собственным бюджетом времени:
// родительский контекст к этому моменту уже отменён.
func (w *Worker) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushBudget)
	defer cancel()
	w.producer.Produce(ctx, w)
}

func (w *Worker) setState(state domain.WorkerState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// Status возвращает снимок состояния воркера и его буфера.
func (w *Worker) Status() domain.TargetStatus {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()
	return domain.TargetStatus{
		Target:          w.cfg.Target,
		Sources:         append([]string(nil), w.cfg.Sources...),
		IntervalMinutes: w.cfg.IntervalMinutes,
		Buffered:        w.buffer.Len(),
		LastFlush:       w.buffer.LastFlush(),
		State:           state,
	}
}
