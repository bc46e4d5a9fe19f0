// Package timer schedules the broker's delayed and repeating callbacks.
package timer

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Handle identifies a scheduled callback. The zero Handle is never
// returned by After.
type Handle uint64

// Scheduler runs fn after d, and every d after that when repeating,
// until the callback is cancelled.
type Scheduler interface {
	After(d time.Duration, repeating bool, fn func()) Handle
	Cancel(h Handle)
}

// minInterval keeps a zero or negative duration from spinning
const minInterval = time.Millisecond

// every is a cron.Schedule firing at a fixed interval, it allows for
// the sub-second intervals cron specs can't express
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Cron is a Scheduler backed by a robfig/cron runner
type Cron struct {
	c *cron.Cron
}

// NewCron starts a cron runner, Stop must be called to release it.
// Panics in callbacks are recovered and logged.
func NewCron(logger *zap.Logger) *Cron {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := cronLogger{logger.Sugar()}
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l)),
	)
	c.Start()
	return &Cron{c: c}
}

func (s *Cron) After(d time.Duration, repeating bool, fn func()) Handle {
	if d < minInterval {
		d = minInterval
	}
	if repeating {
		return Handle(s.c.Schedule(every(d), cron.FuncJob(fn)))
	}
	// one shot: the job removes its own entry before running. ready
	// holds it back until id has been assigned, once covers a second
	// tick landing before the removal does.
	var (
		id    cron.EntryID
		once  sync.Once
		ready = make(chan struct{})
	)
	id = s.c.Schedule(every(d), cron.FuncJob(func() {
		once.Do(func() {
			<-ready
			s.c.Remove(id)
			fn()
		})
	}))
	close(ready)
	return Handle(id)
}

func (s *Cron) Cancel(h Handle) {
	s.c.Remove(cron.EntryID(h))
}

// Len is the number of scheduled callbacks
func (s *Cron) Len() int {
	return len(s.c.Entries())
}

// Stop halts the runner and waits for running callbacks to return
func (s *Cron) Stop() {
	<-s.c.Stop().Done()
}

// cronLogger routes cron's own logging to zap. cron logs every wake up
// at info level, that's debug for us.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
