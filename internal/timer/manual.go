package timer

import (
	"sync"
	"time"
)

// Manual is a Scheduler driven by Advance instead of the wall clock.
// Callbacks run on the goroutine calling Advance, in due order.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	last  Handle
	tasks map[Handle]*manualTask
}

type manualTask struct {
	at        time.Duration
	interval  time.Duration
	repeating bool
	fn        func()
}

// NewManual returns a Manual scheduler at time zero
func NewManual() *Manual {
	return &Manual{tasks: make(map[Handle]*manualTask)}
}

func (m *Manual) After(d time.Duration, repeating bool, fn func()) Handle {
	if d < minInterval {
		d = minInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last++
	m.tasks[m.last] = &manualTask{
		at:        m.now + d,
		interval:  d,
		repeating: repeating,
		fn:        fn,
	}
	return m.last
}

func (m *Manual) Cancel(h Handle) {
	m.mu.Lock()
	delete(m.tasks, h)
	m.mu.Unlock()
}

// Len is the number of scheduled callbacks
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance moves the clock forward by d, running every callback that
// falls due on the way. A callback may schedule or cancel others.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()
	for {
		m.mu.Lock()
		h, task := m.due(target)
		if task == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = task.at
		if task.repeating {
			task.at += task.interval
		} else {
			delete(m.tasks, h)
		}
		fn := task.fn
		m.mu.Unlock()
		fn()
	}
}

// due returns the earliest task at or before target, ties go to the
// one scheduled first
func (m *Manual) due(target time.Duration) (Handle, *manualTask) {
	var (
		h    Handle
		next *manualTask
	)
	for id, task := range m.tasks {
		if task.at > target {
			continue
		}
		if next == nil || task.at < next.at || (task.at == next.at && id < h) {
			h, next = id, task
		}
	}
	return h, next
}
