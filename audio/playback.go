package audio

import (
	"log"
	"sync"
	"time"
)

const (
	// drainFallbackInterval self-heals a missed enqueue-triggered drain.
	drainFallbackInterval = 250 * time.Millisecond
	// levelWindow is the metering granularity while a unit plays.
	levelWindow = 50 * time.Millisecond
)

type entry struct {
	data       []byte
	enqueuedAt time.Time
}

// Queue serializes synthesized-speech fragments into continuous playback.
// Fragments enqueue in arbitrary bursts; a drain pass takes the entire queue,
// concatenates it into one buffer (truncating partial samples) and schedules
// a single playback unit. At most one unit plays at a time.
type Queue struct {
	out Output

	mu       sync.Mutex
	pending  []entry
	active   bool
	unit     Unit
	level    int
	flushGen uint64

	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewQueue(out Output) *Queue {
	q := &Queue{
		out:  out,
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue buffers one raw PCM fragment and signals the drainer.
func (q *Queue) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, entry{data: pcm, enqueuedAt: time.Now()})
	q.mu.Unlock()
	q.signal()
}

// Flush implements barge-in: stop the in-flight unit, empty the queue and
// zero the level.
func (q *Queue) Flush() {
	q.mu.Lock()
	q.pending = nil
	unit := q.unit
	q.unit = nil
	q.level = 0
	q.flushGen++
	q.mu.Unlock()

	if unit != nil {
		unit.Stop()
	}
}

// Level returns the current output level, 0-100.
func (q *Queue) Level() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.level
}

// Pending returns the number of queued fragments.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the drainer and any in-flight playback.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.Flush()
	})
}

func (q *Queue) signal() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	ticker := time.NewTicker(drainFallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-q.kick:
			q.drain()
		case <-ticker.C:
			q.drain()
		}
	}
}

// drain takes the whole queue and schedules one continuous unit. The active
// flag guarantees a single physical playback region at a time.
func (q *Queue) drain() {
	q.mu.Lock()
	if q.active || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	entries := q.pending
	q.pending = nil
	q.active = true
	gen := q.flushGen
	q.mu.Unlock()

	total := 0
	for _, e := range entries {
		total += len(e.data) - len(e.data)%2
	}
	buf := make([]byte, 0, total)
	for _, e := range entries {
		usable := len(e.data) - len(e.data)%2
		buf = append(buf, e.data[:usable]...)
	}
	if len(buf) == 0 {
		q.mu.Lock()
		q.active = false
		q.mu.Unlock()
		return
	}

	unit, err := q.out.Play(buf)
	if err != nil {
		log.Printf("❌ Audio playback failed: %v", err)
		q.mu.Lock()
		q.active = false
		q.mu.Unlock()
		return
	}

	q.mu.Lock()
	// A flush that raced Play must silence the unit it could not yet see.
	if q.flushGen != gen {
		q.active = false
		q.mu.Unlock()
		unit.Stop()
		return
	}
	q.unit = unit
	q.mu.Unlock()

	go q.meter(unit, buf)
	go func() {
		<-unit.Done()
		q.mu.Lock()
		if q.unit == unit {
			q.unit = nil
		}
		q.active = false
		q.level = 0
		more := len(q.pending) > 0
		q.mu.Unlock()
		if more {
			q.signal()
		}
	}()
}

// meter samples the playing buffer in wall-clock windows and publishes the
// output level until the unit ends.
func (q *Queue) meter(unit Unit, buf []byte) {
	bytesPerWindow := PlaybackSampleRate * 2 * int(levelWindow) / int(time.Second)
	ticker := time.NewTicker(levelWindow)
	defer ticker.Stop()

	offset := 0
	for {
		select {
		case <-unit.Done():
			return
		case <-ticker.C:
			if offset >= len(buf) {
				return
			}
			end := offset + bytesPerWindow
			if end > len(buf) {
				end = len(buf)
			}
			lvl := pcmLevel(buf[offset:end])
			offset = end

			q.mu.Lock()
			if q.unit == unit {
				q.level = lvl
			}
			q.mu.Unlock()
		}
	}
}
