package chat

import (
	"sync"
	"time"
)

// DefaultTypingDelay is the quiet period after the last keystroke before
// typing=false goes out.
const DefaultTypingDelay = 2 * time.Second

// Timer is the part of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it through
// SystemAfterFunc; tests pass a fake.
type AfterFunc func(d time.Duration, f func()) Timer

func SystemAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Typing is a trailing debouncer for the typing indicator. Every keystroke
// emits true; a single false follows delay after the last keystroke.
type Typing struct {
	emit  func(isTyping bool)
	delay time.Duration
	after AfterFunc

	mu    sync.Mutex
	timer Timer
	gen   uint64
}

func NewTyping(emit func(isTyping bool), delay time.Duration, after AfterFunc) *Typing {
	if delay <= 0 {
		delay = DefaultTypingDelay
	}
	if after == nil {
		after = SystemAfterFunc
	}
	return &Typing{emit: emit, delay: delay, after: after}
}

// Keystroke emits typing=true and restarts the quiet timer.
func (t *Typing) Keystroke() {
	t.emit(true)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.after(t.delay, func() { t.fire(gen) })
}

func (t *Typing) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.timer == nil {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()
	t.emit(false)
}

// Stop cancels a pending timer. If typing=true is outstanding the closing
// false is emitted right away.
func (t *Typing) Stop() {
	t.mu.Lock()
	pending := t.timer != nil
	if pending {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.mu.Unlock()
	if pending {
		t.emit(false)
	}
}
