package util

import (
	"sync"

	"github.com/mohitkumar/loanflow/logger"
	"go.uber.org/zap"
)

// Queue feeds items to a single consumer goroutine through a bounded buffer.
// Items still buffered when Stop is called are handled before it returns.
type Queue[T any] struct {
	name     string
	wg       *sync.WaitGroup
	handle   func(T) error
	items    chan T
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewQueue[T any](name string, wg *sync.WaitGroup, handle func(T) error, capacity int) *Queue[T] {
	return &Queue[T]{
		name:   name,
		wg:     wg,
		handle: handle,
		items:  make(chan T, capacity),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (q *Queue[T]) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer close(q.done)
		for {
			select {
			case item := <-q.items:
				q.process(item)
			case <-q.stop:
				q.drain()
				return
			}
		}
	}()
}

func (q *Queue[T]) process(item T) {
	if err := q.handle(item); err != nil {
		logger.Error("queued item failed", zap.String("queue", q.name), zap.Error(err))
	}
}

func (q *Queue[T]) drain() {
	n := 0
	for {
		select {
		case item := <-q.items:
			q.process(item)
			n++
		default:
			logger.Info("queue stopped", zap.String("queue", q.name), zap.Int("flushed", n))
			return
		}
	}
}

// Offer enqueues without blocking and reports false when the buffer is full.
func (q *Queue[T]) Offer(item T) bool {
	select {
	case q.items <- item:
		return true
	default:
		return false
	}
}

func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Stop flushes the buffer and waits for the consumer to exit. It must follow Start.
func (q *Queue[T]) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	<-q.done
}
