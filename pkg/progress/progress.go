// Package progress carries progress notifications out of the crawl without
// letting slow or faulty consumers stall it.
package progress

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"papers-crawler/pkg/logger"
)

// Stage names the phase a coarse event belongs to.
type Stage string

const (
	StageScanning   Stage = "scanning"
	StageSaving     Stage = "saving"
	StageFinalizing Stage = "finalizing"
	StageDone       Stage = "done"
)

// Event is a coarse progress update.
type Event struct {
	Current int
	// Total is the run limit, or 0 when unknown.
	Total  int
	Status string
	// Size is the byte size of the file just written.
	Size  int64
	Rate  float64
	Stage Stage
}

// FileFunc is called once per written record with its file name and path.
type FileFunc func(filename, path string)

// TotalFunc receives coarse progress events.
type TotalFunc func(Event)

// Dispatcher delivers callbacks on its own goroutine in submission order.
// Submissions never block. File notifications are always delivered; coarse
// events are dropped while buffer of them are already waiting. A panicking
// callback is logged and the dispatcher keeps going.
type Dispatcher struct {
	onFile  FileFunc
	onTotal TotalFunc
	logger  *log.Logger
	buffer  int

	mu      sync.Mutex
	pending []queued
	coarse  int
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
}

type queued struct {
	fn     func()
	coarse bool
}

// DefaultBuffer is the coarse event backlog used by NewDispatcher when
// buffer <= 0.
const DefaultBuffer = 256

func NewDispatcher(onFile FileFunc, onTotal TotalFunc, buffer int, l *log.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		onFile:  onFile,
		onTotal: onTotal,
		logger:  logger.Component(l, "progress"),
		buffer:  buffer,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		<-d.wake
		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			next := d.pending[0]
			d.pending[0] = queued{}
			d.pending = d.pending[1:]
			if next.coarse {
				d.coarse--
			}
			d.mu.Unlock()
			d.call(next.fn)
		}
	}
}

func (d *Dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("progress callback panicked", "panic", r)
		}
	}()
	fn()
}

func (d *Dispatcher) submit(fn func(), coarse bool) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if coarse && d.coarse >= d.buffer {
		d.mu.Unlock()
		d.dropped.Add(1)
		return
	}
	d.pending = append(d.pending, queued{fn: fn, coarse: coarse})
	if coarse {
		d.coarse++
	}
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// File queues a per-file notification.
func (d *Dispatcher) File(filename, path string) {
	if d == nil || d.onFile == nil {
		return
	}
	d.submit(func() { d.onFile(filename, path) }, false)
}

// Total queues a coarse event.
func (d *Dispatcher) Total(ev Event) {
	if d == nil || d.onTotal == nil {
		return
	}
	d.submit(func() { d.onTotal(ev) }, true)
}

// Dropped returns how many coarse events were discarded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
	<-d.done
}
