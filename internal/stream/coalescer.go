// Package stream coalesces Agent streaming deltas into a small number of
// whole messages suitable for a chat platform.
package stream

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/iris/internal/textsplit"
)

// Options configures a Coalescer. Zero values fall back to defaults.
type Options struct {
	MinChars    int           // minimum buffered bytes before an idle flush
	MaxChars    int           // flush threshold; also the emitted chunk cap
	Idle        time.Duration // flush the buffer after this much delta silence
	BreakOn     string        // paragraph|sentence|word (default word)
	EditInPlace bool          // after the first flush, re-emit full text as edits
}

const (
	defaultMinChars = 80
	defaultMaxChars = 1200
	defaultIdle     = 2 * time.Second
)

// Flush is one coalescer emission. When IsEdit is true, Text is the full
// accumulated response and the receiver should edit the originally sent
// message instead of sending a new one.
type Flush struct {
	Text   string
	IsEdit bool
}

// Coalescer accumulates streaming deltas and flushes on size, idle, or end.
// Append/End are expected from a single caller; the idle timer fires on its
// own goroutine, so internal state is mutex-guarded.
type Coalescer struct {
	mu             sync.Mutex
	opts           Options
	level          textsplit.BreakLevel
	buffer         string
	fullText       string
	hasFlushedOnce bool
	ended          bool
	idleTimer      *time.Timer
	onFlush        func(Flush)
}

// New creates a Coalescer delivering emissions to onFlush. Emissions happen
// synchronously from Append/End or from the idle timer goroutine, never
// concurrently.
func New(opts Options, onFlush func(Flush)) *Coalescer {
	if opts.MinChars <= 0 {
		opts.MinChars = defaultMinChars
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = defaultMaxChars
	}
	if opts.Idle <= 0 {
		opts.Idle = defaultIdle
	}
	return &Coalescer{
		opts:    opts,
		level:   textsplit.ParseBreakLevel(opts.BreakOn),
		onFlush: onFlush,
	}
}

// Append adds one streaming delta.
func (c *Coalescer) Append(delta string) {
	if delta == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}

	c.buffer += delta
	c.fullText += delta
	c.resetIdleLocked()

	for len(c.buffer) >= c.opts.MaxChars {
		cut := len(c.buffer)
		if cut > c.opts.MaxChars {
			cut = textsplit.BreakPoint(c.buffer, c.opts.MaxChars, c.level)
		}
		chunk := c.buffer[:cut]
		c.buffer = c.buffer[cut:]
		c.emitLocked(chunk)
	}
}

// End flushes any residue unconditionally and cancels the idle timer.
// Safe to call more than once.
func (c *Coalescer) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.ended = true
	c.stopIdleLocked()
	if c.buffer != "" {
		chunk := c.buffer
		c.buffer = ""
		c.emitLocked(chunk)
	}
}

// Cancel drops buffered text without emitting and cancels the idle timer.
func (c *Coalescer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
	c.buffer = ""
	c.stopIdleLocked()
}

// FullText returns everything appended so far.
func (c *Coalescer) FullText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fullText
}

func (c *Coalescer) idleFire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended || len(c.buffer) < c.opts.MinChars {
		return
	}
	chunk := c.buffer
	c.buffer = ""
	c.emitLocked(chunk)
}

// emitLocked delivers one flush. With editInPlace the first flush is a plain
// message and every later flush carries the full accumulated text as an edit.
func (c *Coalescer) emitLocked(chunk string) {
	if c.onFlush == nil {
		return
	}
	if c.opts.EditInPlace && c.hasFlushedOnce {
		c.onFlush(Flush{Text: c.fullText, IsEdit: true})
	} else {
		c.onFlush(Flush{Text: chunk})
	}
	c.hasFlushedOnce = true
}

func (c *Coalescer) resetIdleLocked() {
	if c.idleTimer == nil {
		c.idleTimer = time.AfterFunc(c.opts.Idle, c.idleFire)
		return
	}
	c.idleTimer.Reset(c.opts.Idle)
}

func (c *Coalescer) stopIdleLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}
