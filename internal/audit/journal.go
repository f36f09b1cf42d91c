package audit

/*
Файл journal.go — асинхронный журнал решений оптимизатора.

- Неблокирующая запись: Log кладет запись в буферизованный канал и сразу возвращается,
  поэтому медленная БД не тормозит анализ и применение порогов.
- Пакетная запись: воркер копит записи и сбрасывает их в Storage по таймеру
  или при достижении размера пачки.
- Drain Pattern: Stop закрывает канал, воркер вычитывает остатки и делает финальный flush.
- Load Shedding: при переполнении буфера запись пишется в лог и отбрасывается.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-optimizer/internal/events"
)

// Storage определяет, куда физически сохраняются записи.
type Storage interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, records []Record) error
}

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	return c
}

type Journal struct {
	cfg    Config
	ch     chan Record
	repo   Storage
	fill   prometheus.Gauge
	logger *zap.Logger
	wg     sync.WaitGroup

	// mu защищает закрытие канала от конкурентных Log
	mu     sync.RWMutex
	closed bool
}

// NewJournal создает журнал. fill может быть nil.
func NewJournal(repo Storage, cfg Config, fill prometheus.Gauge, logger *zap.Logger) *Journal {
	cfg = cfg.withDefaults()
	return &Journal{
		cfg:    cfg,
		ch:     make(chan Record, cfg.BufferSize),
		repo:   repo,
		fill:   fill,
		logger: logger.Named("audit"),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

// Observe — наблюдатель для events.Bus.
func (j *Journal) Observe(_ context.Context, e events.Event) {
	j.Log(FromEvent(e))
}

func (j *Journal) Log(r Record) {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("audit record dropped: journal is stopping", zap.String("id", r.ID))
		return
	}

	select {
	case j.ch <- r:
		j.observeFill()
	default:
		// Backpressure: не блокируем вызывающего
		j.logger.Error("audit_buffer_overflow",
			zap.String("kind", r.Kind),
			zap.String("entity_id", r.EntityID),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Record, 0, j.cfg.BatchSize)
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть уже отменен
		if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("audit flush failed", zap.Int("records", len(batch)), zap.Error(err))
		}
		batch = make([]Record, 0, j.cfg.BatchSize)
		j.observeFill()
	}

	for {
		select {
		case r, ok := <-j.ch:
			if !ok {
				flush()
				j.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, r)
			if len(batch) >= j.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (j *Journal) observeFill() {
	if j.fill != nil {
		j.fill.Set(float64(len(j.ch)))
	}
}
