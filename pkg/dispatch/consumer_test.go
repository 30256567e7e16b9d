package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeBackend struct {
	mu        sync.Mutex
	calls     []string
	pcmBytes  int
	failNext  bool
	cleanedUp bool
}

func (f *fakeBackend) Initialize(ctx context.Context) error { return nil }

func (f *fakeBackend) Transcribe(ctx context.Context, chunkID string, pcm []byte) (TranscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chunkID)
	f.pcmBytes += len(pcm)
	if f.failNext {
		f.failNext = false
		return TranscriptionResult{}, errors.New("simulated backend failure")
	}
	return TranscriptionResult{Text: "hello", ChunkID: chunkID}, nil
}

func (f *fakeBackend) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanedUp = true
	return nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func mkFrame(seq uint64, pcmLen int, final bool) AudioFrame {
	return NewAudioFrame("chunk-"+string(rune('a'+seq)), make([]byte, pcmLen), float64(seq), seq, 16000, 1, final)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestConsumerTriggersOnExactMultiple(t *testing.T) {
	backend := &fakeBackend{}
	var results []TranscriptionResult
	var mu sync.Mutex

	c := NewConsumer(ConsumerConfig{
		Name:          "realtime",
		TriggerChunks: 3,
		MaxWorkers:    1,
	}, backend, func(r TranscriptionResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}, nil)
	c.Start()

	for i := uint64(0); i < 6; i++ {
		c.OnFrame(mkFrame(i, 160, false))
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	})

	if backend.callCount() != 2 {
		t.Errorf("expected 2 backend calls for 6 frames at trigger=3, got %d", backend.callCount())
	}
}

func TestConsumerFlushesTrailingPartialOnFinal(t *testing.T) {
	backend := &fakeBackend{}
	var results []TranscriptionResult
	var mu sync.Mutex

	c := NewConsumer(ConsumerConfig{
		Name:          "realtime",
		TriggerChunks: 5,
		MaxWorkers:    1,
	}, backend, func(r TranscriptionResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}, nil)
	c.Start()

	for i := uint64(0); i < 3; i++ {
		c.OnFrame(mkFrame(i, 160, false))
	}
	c.OnFrame(mkFrame(3, 0, true))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	})

	mu.Lock()
	r := results[0]
	mu.Unlock()
	if !r.IsFinal {
		t.Error("expected the trailing partial result to be flagged final")
	}
}

func TestConsumerEmptyFinalFrameProducesNoTaskWhenBufferEmpty(t *testing.T) {
	backend := &fakeBackend{}
	c := NewConsumer(ConsumerConfig{
		Name:          "realtime",
		TriggerChunks: 5,
		MaxWorkers:    1,
	}, backend, nil, nil)
	c.Start()

	c.OnFrame(mkFrame(0, 0, true))

	time.Sleep(20 * time.Millisecond)
	if backend.callCount() != 0 {
		t.Errorf("expected no backend call for an empty final frame on an empty buffer, got %d", backend.callCount())
	}
}

func TestConsumerChunkIDsAreUnique(t *testing.T) {
	backend := &fakeBackend{}
	c := NewConsumer(ConsumerConfig{
		Name:          "realtime",
		TriggerChunks: 2,
		MaxWorkers:    2,
	}, backend, nil, nil)
	c.Start()

	for i := uint64(0); i < 20; i++ {
		c.OnFrame(mkFrame(i, 160, false))
	}

	waitFor(t, time.Second, func() bool { return backend.callCount() == 10 })

	seen := map[string]bool{}
	backend.mu.Lock()
	for _, id := range backend.calls {
		if seen[id] {
			t.Errorf("duplicate chunk id: %s", id)
		}
		seen[id] = true
	}
	backend.mu.Unlock()
}

func TestConsumerByteCoverageAcrossTasks(t *testing.T) {
	backend := &fakeBackend{}
	c := NewConsumer(ConsumerConfig{
		Name:          "realtime",
		TriggerChunks: 4,
		MaxWorkers:    1,
	}, backend, nil, nil)
	c.Start()

	const frames = 12
	const frameBytes = 200
	for i := uint64(0); i < frames; i++ {
		c.OnFrame(mkFrame(i, frameBytes, false))
	}

	waitFor(t, time.Second, func() bool { return backend.callCount() == 3 })

	backend.mu.Lock()
	got := backend.pcmBytes
	backend.mu.Unlock()
	want := frames * frameBytes
	if got != want {
		t.Errorf("expected total dispatched bytes %d, got %d", want, got)
	}
}

func TestConsumerBackendFailureDropsResultButKeepsWorking(t *testing.T) {
	backend := &fakeBackend{failNext: true}
	var results []TranscriptionResult
	var mu sync.Mutex

	c := NewConsumer(ConsumerConfig{
		Name:          "realtime",
		TriggerChunks: 2,
		MaxWorkers:    1,
	}, backend, func(r TranscriptionResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}, nil)
	c.Start()

	for i := uint64(0); i < 4; i++ {
		c.OnFrame(mkFrame(i, 160, false))
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	})
}

func TestConsumerShutdownDrainsAndJoins(t *testing.T) {
	backend := &fakeBackend{}
	c := NewConsumer(ConsumerConfig{
		Name:          "realtime",
		TriggerChunks: 2,
		MaxWorkers:    2,
	}, backend, nil, nil)
	c.Start()

	for i := uint64(0); i < 10; i++ {
		c.OnFrame(mkFrame(i, 160, false))
	}

	ok := c.Shutdown(2 * time.Second)
	if !ok {
		t.Error("expected clean shutdown")
	}
	if !backend.cleanedUp {
		t.Error("expected backend Cleanup to be called on shutdown")
	}
	if c.PendingTasks() != 0 {
		t.Errorf("expected no pending tasks after shutdown, got %d", c.PendingTasks())
	}
}

func TestConsumerIgnoresFramesAfterShutdownStarted(t *testing.T) {
	backend := &fakeBackend{}
	c := NewConsumer(ConsumerConfig{
		Name:          "realtime",
		TriggerChunks: 100,
		MaxWorkers:    1,
	}, backend, nil, nil)
	c.Start()

	c.Shutdown(time.Second)
	c.OnFrame(mkFrame(0, 160, false))

	if backend.callCount() != 0 {
		t.Error("expected frames published after shutdown to be ignored")
	}
}
