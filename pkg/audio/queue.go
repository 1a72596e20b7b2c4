package audio

import (
	"log/slog"
	"sync"
)

// FrameQueue is a bounded FIFO of capture frames. When the queue is full the
// oldest frame is dropped so that live audio keeps flowing; drops are counted
// and logged at a sampled rate rather than per frame.
type FrameQueue struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
	dropped  uint64
	logger   *slog.Logger
}

// NewFrameQueue creates a queue holding at most capacity frames. A capacity
// below 1 is treated as 1.
func NewFrameQueue(capacity int, logger *slog.Logger) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameQueue{
		frames:   make([]Frame, 0, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Push appends a frame, evicting the oldest frame first if the queue is full.
// It reports whether an eviction occurred.
func (q *FrameQueue) Push(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.frames) >= q.capacity {
		copy(q.frames, q.frames[1:])
		q.frames = q.frames[:len(q.frames)-1]
		q.dropped++
		evicted = true
		if q.dropped == 1 || q.dropped%100 == 0 {
			q.logger.Warn("frame queue saturated, dropping oldest",
				"capacity", q.capacity, "dropped_total", q.dropped)
		}
	}
	q.frames = append(q.frames, f)
	return evicted
}

// Pop removes and returns the oldest frame. ok is false when the queue is
// empty.
func (q *FrameQueue) Pop() (f Frame, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return Frame{}, false
	}
	f = q.frames[0]
	copy(q.frames, q.frames[1:])
	q.frames = q.frames[:len(q.frames)-1]
	return f, true
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns the total number of frames evicted since creation.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
