package history

/*
Файл store.go реализует ограниченное хранилище срезов телеметрии.

- Кольцевой буфер фиксированной емкости: при переполнении вытесняется самый старый срез.
- Срезы упорядочены по времени. Запоздавший срез вставляется на свое место, а не в конец.
- Все чтения отдают копии, поэтому анализаторы работают со снимком истории
  и не держат блокировку во время вычислений.
*/

import (
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
)

const DefaultCapacity = 1000

type Store struct {
	mu       sync.RWMutex
	items    []domain.MetricsSnapshot
	capacity int
	evicted  uint64
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		items:    make([]domain.MetricsSnapshot, 0, capacity),
		capacity: capacity,
	}
}

// Append добавляет срез. Нулевой timestamp заменяется текущим временем.
func (s *Store) Append(snap domain.MetricsSnapshot) {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	snap = snap.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Быстрый путь: срез новее последнего
	n := len(s.items)
	if n == 0 || !snap.Timestamp.Before(s.items[n-1].Timestamp) {
		s.items = append(s.items, snap)
	} else {
		idx := sort.Search(n, func(i int) bool {
			return s.items[i].Timestamp.After(snap.Timestamp)
		})
		s.items = append(s.items, domain.MetricsSnapshot{})
		copy(s.items[idx+1:], s.items[idx:])
		s.items[idx] = snap
	}

	if over := len(s.items) - s.capacity; over > 0 {
		// Сдвигаем, чтобы не держать ссылку на вытесненные мапы агентов
		copy(s.items, s.items[over:])
		for i := len(s.items) - over; i < len(s.items); i++ {
			s.items[i] = domain.MetricsSnapshot{}
		}
		s.items = s.items[:len(s.items)-over]
		s.evicted += uint64(over)
	}
}

// Latest возвращает последний срез или false, если история пуста.
func (s *Store) Latest() (domain.MetricsSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.items) == 0 {
		return domain.MetricsSnapshot{}, false
	}
	return s.items[len(s.items)-1].Clone(), true
}

// All возвращает копию всей истории в хронологическом порядке.
func (s *Store) All() []domain.MetricsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.items)
}

// Last возвращает не более n последних срезов.
func (s *Store) Last(n int) []domain.MetricsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return []domain.MetricsSnapshot{}
	}
	if n > len(s.items) {
		n = len(s.items)
	}
	return cloneAll(s.items[len(s.items)-n:])
}

// Since возвращает срезы с timestamp >= from.
func (s *Store) Since(from time.Time) []domain.MetricsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := sort.Search(len(s.items), func(i int) bool {
		return !s.items[i].Timestamp.Before(from)
	})
	return cloneAll(s.items[idx:])
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) Capacity() int {
	return s.capacity
}

// Evicted — сколько срезов вытеснено за все время.
func (s *Store) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

func cloneAll(items []domain.MetricsSnapshot) []domain.MetricsSnapshot {
	out := make([]domain.MetricsSnapshot, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
