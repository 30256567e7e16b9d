package dispatch

import "sync"

// Clock abstracts "now" in seconds, decoupling the buffer's window
// extraction from the wall clock (spec: monotonic audio-time bookkeeping
// decoupled from wall-clock). RollingBuffer always uses latestFrameClock,
// whose "now" is the newest added frame's TimestampS; it offers no way to
// install a different Clock.
type Clock interface {
	NowS() float64
}

// latestFrameClock treats the most recently added frame's timestamp as
// "now" — the natural clock for an audio-time-driven rolling buffer, since
// frames arrive in timestamp order.
type latestFrameClock struct {
	mu  sync.Mutex
	now float64
}

func (c *latestFrameClock) NowS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *latestFrameClock) advance(t float64) {
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	c.mu.Unlock()
}

// RollingBuffer is a thread-safe, time-ordered deque of AudioFrames bounded
// by a configured duration. Not every deployment needs one — only consumers
// that extract retrospective windows (e.g. "transcribe the last 60s every
// 45s").
type RollingBuffer struct {
	mu            sync.Mutex
	frames        []AudioFrame
	totalBytes    int
	capacityS     float64
	capacityBytes int
	sampleRateHz  int
	channels      int
	clock         *latestFrameClock
}

// NewRollingBuffer creates a buffer bounded by capacityS seconds at the
// given format.
func NewRollingBuffer(capacityS float64, sampleRateHz, channels int) *RollingBuffer {
	return &RollingBuffer{
		capacityS:     capacityS,
		capacityBytes: int(float64(sampleRateHz*channels*2) * capacityS),
		sampleRateHz:  sampleRateHz,
		channels:      channels,
		clock:         &latestFrameClock{},
	}
}

// Add appends frame and evicts the oldest frames while total buffered bytes
// exceed capacity.
func (b *RollingBuffer) Add(frame AudioFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = append(b.frames, frame)
	b.totalBytes += len(frame.PCM)

	for b.totalBytes > b.capacityBytes && len(b.frames) > 0 {
		oldest := b.frames[0]
		b.frames = b.frames[1:]
		b.totalBytes -= len(oldest.PCM)
	}

	b.clock.advance(frame.TimestampS)
}

// GetWindow returns the concatenation of frames whose TimestampS falls in
// [now-offsetS-durS, now-offsetS], using the buffer's own clock (the
// newest frame's timestamp). Returns ok=false if no frames fall in range.
func (b *RollingBuffer) GetWindow(durS, offsetS float64) (pcm []byte, startS, endS float64, ok bool) {
	now := b.clock.NowS()
	targetStart := now - offsetS - durS
	targetEnd := now - offsetS

	b.mu.Lock()
	defer b.mu.Unlock()

	var selected []AudioFrame
	for _, f := range b.frames {
		if f.TimestampS >= targetStart && f.TimestampS <= targetEnd {
			selected = append(selected, f)
		}
	}
	if len(selected) == 0 {
		return nil, 0, 0, false
	}

	var buf []byte
	for _, f := range selected {
		buf = append(buf, f.PCM...)
	}
	return buf, selected[0].TimestampS, selected[len(selected)-1].TimestampS, true
}

// Stats reports the buffer's current frame count, byte count, oldest/newest
// timestamp, and configured capacity.
func (b *RollingBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BufferStats{
		FrameCount:    len(b.frames),
		TotalBytes:    b.totalBytes,
		CapacityS:     b.capacityS,
		CapacityBytes: b.capacityBytes,
	}
	if len(b.frames) > 0 {
		stats.OldestTimestampS = b.frames[0].TimestampS
		stats.NewestTimestampS = b.frames[len(b.frames)-1].TimestampS
		stats.DurationS = stats.NewestTimestampS - stats.OldestTimestampS
	}
	return stats
}
