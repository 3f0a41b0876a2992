package socket

import "sync"

// Notifier surfaces transient connection notices to the user.
type Notifier interface {
	Success(message string)
	Error(message string)
}

// NotifierFuncs adapts two funcs to a Notifier. Nil funcs are skipped.
type NotifierFuncs struct {
	OnSuccess func(string)
	OnError   func(string)
}

func (n NotifierFuncs) Success(message string) {
	if n.OnSuccess != nil {
		n.OnSuccess(message)
	}
}

func (n NotifierFuncs) Error(message string) {
	if n.OnError != nil {
		n.OnError(message)
	}
}

// latch lets one error notice through per failure episode; a successful
// connect ends the episode.
type latch struct {
	mu      sync.Mutex
	target  Notifier
	latched bool
}

func newLatch(target Notifier) *latch {
	if target == nil {
		target = NotifierFuncs{}
	}
	return &latch{target: target}
}

func (l *latch) connected(message string) {
	l.mu.Lock()
	l.latched = false
	l.mu.Unlock()
	l.target.Success(message)
}

func (l *latch) failed(message string) {
	l.mu.Lock()
	if l.latched {
		l.mu.Unlock()
		return
	}
	l.latched = true
	l.mu.Unlock()
	l.target.Error(message)
}
