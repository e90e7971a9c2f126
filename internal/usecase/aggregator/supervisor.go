package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-channel-digest/internal/domain"
	"tg-channel-digest/internal/infra/metrics"
)

// ErrClosed возвращается при попытке работать с остановленным супервизором.
var ErrClosed = errors.New("супервизор остановлен")

// Options настраивает периоды опроса и остановки воркеров.
type Options struct {
	PollEvery     time.Duration
	Heartbeat     time.Duration
	ShutdownGrace time.Duration
}

// Supervisor владеет набором воркеров, по одному на целевой канал,
// маршрутизирует входящие посты в их буферы и перезапускает воркеры,
// завершившиеся с ошибкой. Буферы принадлежат супервизору и переживают
// перезапуск воркера, поэтому авария не теряет собранные посты.
type Supervisor struct {
	producer *Producer
	log      zerolog.Logger
	opts     Options

	mu      sync.Mutex
	targets map[string]*targetEntry
	closed  bool

	exits chan workerExit
	quit  chan struct{}
	wg    sync.WaitGroup
}

type targetEntry struct {
	cfg    domain.ChannelConfig
	buffer *Buffer
	worker *Worker
	cancel context.CancelFunc
	done   chan struct{}
	runID  string
}

// workerExit — структурированное событие завершения задачи воркера.
type workerExit struct {
	target string
	runID  string
	err    error
}

// NewSupervisor создаёт супервизор без единого воркера.
func NewSupervisor(producer *Producer, log zerolog.Logger, opts Options) *Supervisor {
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 30 * time.Second
	}
	return &Supervisor{
		producer: producer,
		log:      log,
		opts:     opts,
		targets:  make(map[string]*targetEntry),
		exits:    make(chan workerExit),
		quit:     make(chan struct{}),
	}
}

// Register создаёт воркер для нового целевого канала и запускает его цикл.
func (s *Supervisor) Register(cfg domain.ChannelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.targets[cfg.Target]; ok {
		return fmt.Errorf("%s: %w", cfg.Target, domain.ErrDuplicateTarget)
	}
	entry := &targetEntry{cfg: cfg, buffer: NewBuffer(time.Now())}
	s.startLocked(entry)
	s.targets[cfg.Target] = entry
	s.log.Info().Str("target", cfg.Target).Strs("sources", cfg.Sources).Msg("целевой канал зарегистрирован")
	return nil
}

// Unregister останавливает воркер целевого канала, дожидается его финального
// выпуска и убирает канал из набора.
func (s *Supervisor) Unregister(ctx context.Context, target string) error {
	s.mu.Lock()
	entry, ok := s.targets[target]
	if ok {
		delete(s.targets, target)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", target, domain.ErrTargetNotFound)
	}
	entry.cancel()
	select {
	case <-entry.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info().Str("target", target).Msg("целевой канал удалён")
	return nil
}

// Replace атомарно меняет конфигурацию целевого канала: останавливает старый
// воркер и поднимает новый с тем же буфером. Канал не покидает набор, поэтому
// снаружи не наблюдается момента, когда он не зарегистрирован.
func (s *Supervisor) Replace(ctx context.Context, cfg domain.ChannelConfig) error {
	s.mu.Lock()
	entry, ok := s.targets[cfg.Target]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", cfg.Target, domain.ErrTargetNotFound)
	}
	// Буфер переходит новому воркеру, старый не должен его выпускать.
	entry.worker.flushOnExit.Store(false)
	entry.cancel()
	select {
	case <-entry.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if current, ok := s.targets[cfg.Target]; !ok || current != entry {
		return fmt.Errorf("%s: %w", cfg.Target, domain.ErrTargetNotFound)
	}
	entry.cfg = cfg
	s.startLocked(entry)
	s.log.Info().Str("target", cfg.Target).Strs("sources", cfg.Sources).Msg("конфигурация целевого канала заменена")
	return nil
}

// Route раскладывает входящий пост по буферам всех целевых каналов, в чьих
// источниках числится origin. Один пост может попасть в несколько каналов.
// Маршрутизация не возвращает ошибок: сбои выпуска видны только в логах и статусе.
func (s *Supervisor) Route(origin string, post domain.ChannelPost) {
	s.mu.Lock()
	var buffers []*Buffer
	for _, entry := range s.targets {
		if entry.cfg.HasSource(origin) {
			buffers = append(buffers, entry.buffer)
		}
	}
	s.mu.Unlock()
	for _, buf := range buffers {
		buf.Append(post)
	}
	if len(buffers) > 0 {
		metrics.PostsRouted.Add(float64(len(buffers)))
		s.log.Debug().Str("origin", origin).Int("targets", len(buffers)).Msg("пост разложен по буферам")
	}
}

// Status возвращает снимок всех целевых каналов, отсортированный по имени.
func (s *Supervisor) Status() []domain.TargetStatus {
	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.targets))
	for _, entry := range s.targets {
		workers = append(workers, entry.worker)
	}
	s.mu.Unlock()
	statuses := make([]domain.TargetStatus, 0, len(workers))
	for _, w := range workers {
		statuses = append(statuses, w.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Target < statuses[j].Target })
	return statuses
}

// Run обрабатывает события завершения воркеров. Воркер, вышедший с ошибкой,
// перезапускается с тем же буфером, пока его канал остаётся зарегистрированным.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case exit := <-s.exits:
			if exit.err == nil {
				continue
			}
			s.log.Error().Err(exit.err).
				Str("target", exit.target).
				Str("run_id", exit.runID).
				Msg("воркер аварийно завершился")
			s.mu.Lock()
			entry, ok := s.targets[exit.target]
			if ok && !s.closed && entry.runID == exit.runID {
				metrics.WorkerRestarts.Inc()
				s.startLocked(entry)
				s.log.Info().Str("target", exit.target).Str("run_id", entry.runID).Msg("воркер перезапущен")
			}
			s.mu.Unlock()
		}
	}
}

// Close останавливает все воркеры одновременно и ждёт их не дольше льготного
// срока. Не успевшие остановиться бросаются с записью в лог.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	entries := make([]*targetEntry, 0, len(s.targets))
	for _, entry := range s.targets {
		entries = append(entries, entry)
	}
	s.mu.Unlock()

	close(s.quit)
	for _, entry := range entries {
		entry.cancel()
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	grace, cancel := context.WithTimeout(ctx, s.opts.ShutdownGrace)
	defer cancel()
	select {
	case <-finished:
		s.log.Info().Msg("все воркеры остановлены")
		return nil
	case <-grace.Done():
		for _, entry := range entries {
			select {
			case <-entry.done:
			default:
				s.log.Error().Str("target", entry.cfg.Target).Msg("воркер не остановился за отведённое время")
			}
		}
		return grace.Err()
	}
}

// startLocked запускает задачу воркера для записи. Вызывается под s.mu.
func (s *Supervisor) startLocked(entry *targetEntry) {
	ctx, cancel := context.WithCancel(context.Background())
	entry.worker = newWorker(entry.cfg, entry.buffer, s.producer, s.log, s.opts.PollEvery, s.opts.Heartbeat)
	entry.cancel = cancel
	entry.done = make(chan struct{})
	entry.runID = uuid.NewString()

	target := entry.cfg.Target
	runID := entry.runID
	done := entry.done
	worker := entry.worker

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := worker.Run(ctx)
		close(done)
		select {
		case s.exits <- workerExit{target: target, runID: runID, err: err}:
		case <-s.quit:
		}
	}()
}
