package pipeline

import (
	"runtime"
	"sync"
)

// Pool runs jobs on a fixed number of workers behind a bounded queue.
// Submissions past the queue capacity are rejected instead of blocking.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines. A non-positive size uses GOMAXPROCS;
// a negative queue is treated as zero.
func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
		if workers <= 0 {
			workers = 1
		}
	}
	if queue < 0 {
		queue = 0
	}

	p := &Pool{tasks: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		if fn != nil {
			fn()
		}
	}
}

// TrySubmit queues fn or returns ErrQueueFull when every worker is busy and
// the queue is full.
func (p *Pool) TrySubmit(fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new work, lets queued jobs finish and waits for them.
func (p *Pool) Stop() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
