package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SpeechBackend is the capability set the engine relies on: a synchronous,
// per-call-deadline transcription call plus idempotent lifecycle hooks.
// Everything polymorphic about "which speech service" sits behind this
// interface (package backend provides HTTP and WebSocket implementations).
type SpeechBackend interface {
	Initialize(ctx context.Context) error
	Transcribe(ctx context.Context, chunkID string, pcm []byte) (TranscriptionResult, error)
	Cleanup() error
}

// Consumer accumulates AudioFrames into windows under one windowing policy
// (trigger_chunks non-empty frames, or end-of-stream) and dispatches each
// window to a bounded pool of workers that call the backend.
type Consumer struct {
	name           string
	backend        SpeechBackend
	triggerChunks  int
	maxWorkers     int
	backendTimeout time.Duration
	resultSink     func(TranscriptionResult)
	logger         Logger

	mu            sync.Mutex
	buffer        []AudioFrame
	pcmAccum      []byte
	nonEmptyCount int

	taskQueue chan Task
	inFlight  atomic.Int64
	chunkCtr  atomic.Uint64

	shuttingDown atomic.Bool
	wg           sync.WaitGroup
	unsubscribe  func()
}

// NewConsumer builds a consumer. Call Start to launch its worker pool and
// RegisterUnsubscribe to give Shutdown a way to detach from audio.frame
// before feeding it frames; Engine.AddConsumer does both.
func NewConsumer(cfg ConsumerConfig, backend SpeechBackend, resultSink func(TranscriptionResult), logger Logger) *Consumer {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	queueCap := cfg.TaskQueueCap
	if queueCap <= 0 {
		queueCap = cfg.MaxWorkers * 4
	}
	return &Consumer{
		name:           cfg.Name,
		backend:        backend,
		triggerChunks:  cfg.TriggerChunks,
		maxWorkers:     cfg.MaxWorkers,
		backendTimeout: cfg.BackendTimeout,
		resultSink:     resultSink,
		logger:         logger,
		taskQueue:      make(chan Task, queueCap),
	}
}

// Name returns the consumer's name, which doubles as its Mode in results.
func (c *Consumer) Name() string { return c.name }

// RegisterUnsubscribe stores the callback Shutdown uses to detach from the
// audio.frame topic. Engine wires this when it subscribes the consumer.
func (c *Consumer) RegisterUnsubscribe(fn func()) {
	c.unsubscribe = fn
}

// Start launches the worker pool. Must be called once before frames arrive.
func (c *Consumer) Start() {
	c.wg.Add(c.maxWorkers)
	for i := 0; i < c.maxWorkers; i++ {
		go c.workerLoop()
	}
}

// OnFrame implements the audio.frame handler contract from spec §4.3.
func (c *Consumer) OnFrame(frame AudioFrame) {
	if c.shuttingDown.Load() {
		return
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, frame)
	c.pcmAccum = append(c.pcmAccum, frame.PCM...)
	if len(frame.PCM) > 0 {
		c.nonEmptyCount++
	}

	shouldFlush := c.nonEmptyCount >= c.triggerChunks || (frame.Final && c.nonEmptyCount > 0)

	var task Task
	flushed := false
	if shouldFlush {
		task = Task{Frames: c.buffer, PCM: c.pcmAccum, IsFinal: frame.Final}
		flushed = true
		// Install fresh, empty instances so a concurrent call has no
		// aliasing with the task just captured.
		c.buffer = nil
		c.pcmAccum = nil
		c.nonEmptyCount = 0
	}
	c.mu.Unlock()

	if flushed {
		// Blocking enqueue outside the lock: natural backpressure onto the
		// publisher when the queue is full.
		c.taskQueue <- task
	}
}

func (c *Consumer) workerLoop() {
	defer c.wg.Done()
	for task := range c.taskQueue {
		c.inFlight.Add(1)
		c.processTask(task)
		c.inFlight.Add(-1)
	}
}

func (c *Consumer) processTask(task Task) {
	if len(task.Frames) == 0 {
		return
	}
	if len(task.PCM) == 0 {
		c.logger.Warn("empty pcm on flush, skipping backend call", "consumer", c.name)
		return
	}

	counter := c.chunkCtr.Add(1)
	first, last := task.FirstFrame(), task.LastFrame()
	chunkID := BuildChunkID(c.name, first, last, counter, task.IsFinal)

	ctx := context.Background()
	if c.backendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.backendTimeout)
		defer cancel()
	}

	result, err := c.backend.Transcribe(ctx, chunkID, task.PCM)
	if err != nil {
		c.logger.Warn("transcription failed, dropping task", "chunk_id", chunkID, "error", err)
		return
	}

	result.AudioStartS = first.TimestampS
	result.AudioEndS = last.EndTimeS()
	result.Mode = c.name
	result.IsFinal = task.IsFinal
	result.ChunkID = chunkID

	c.invokeSink(result)
}

func (c *Consumer) invokeSink(result TranscriptionResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("result sink panicked", "consumer", c.name, "chunk_id", result.ChunkID, "panic", r)
		}
	}()
	if c.resultSink != nil {
		c.resultSink(result)
	}
}

// PendingTasks returns the number of tasks currently queued or in flight,
// for tests and diagnostics.
func (c *Consumer) PendingTasks() int {
	return len(c.taskQueue) + int(c.inFlight.Load())
}

// Shutdown performs the drain-then-stop sequence from spec §5: mark
// shutting down, unsubscribe, wait up to timeout for the queue to drain,
// close the task queue (the Go equivalent of posting one sentinel per
// worker), and wait for workers to exit. Returns true iff the queue drained
// within timeout and all workers exited.
func (c *Consumer) Shutdown(timeout time.Duration) bool {
	c.shuttingDown.Store(true)
	if c.unsubscribe != nil {
		c.unsubscribe()
	}

	deadline := time.Now().Add(timeout)
	drained := false
	for {
		if len(c.taskQueue) == 0 && c.inFlight.Load() == 0 {
			drained = true
			break
		}
		if time.Now().After(deadline) {
			c.logger.Warn("shutdown timeout waiting for queue to drain",
				"consumer", c.name, "queued", len(c.taskQueue), "in_flight", c.inFlight.Load())
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(c.taskQueue)

	joined := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(joined)
	}()

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	// Give workers a little more room than what's left of the drain
	// deadline: they may still be mid-call on the last dequeued tasks.
	joinTimeout := remaining + time.Duration(c.maxWorkers)*100*time.Millisecond

	select {
	case <-joined:
	case <-time.After(joinTimeout):
		c.logger.Warn("shutdown timeout waiting for workers to exit", "consumer", c.name)
		if err := c.backend.Cleanup(); err != nil {
			c.logger.Warn("backend cleanup failed", "consumer", c.name, "error", err)
		}
		return false
	}

	if err := c.backend.Cleanup(); err != nil {
		c.logger.Warn("backend cleanup failed", "consumer", c.name, "error", err)
	}

	return drained
}
