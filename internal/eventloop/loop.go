// Package eventloop runs closures one at a time on a dedicated goroutine.
// Speech callbacks, chat completions and timers all land here, so the state
// they touch needs no locks.
package eventloop

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrStopped = errors.New("event loop stopped")

// Loop is a serial executor.
type Loop struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
	log   logrus.FieldLogger

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a loop whose queue holds up to buffer pending closures.
func New(buffer int, log logrus.FieldLogger) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
}

func (l *Loop) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Stop drops pending closures and waits for the running one to return.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})
	// A loop that never started has nothing to wait for.
	l.startOnce.Do(func() {
		close(l.done)
	})
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case fn := <-l.tasks:
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("event loop task panicked")
		}
	}()
	fn()
}

// Post queues fn and reports whether it was accepted.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Call runs fn on the loop and waits for it. It must not be used from
// inside a loop task.
func (l *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// AfterFunc posts fn once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) func() bool {
	timer := time.AfterFunc(d, func() {
		l.Post(fn)
	})
	return timer.Stop
}
