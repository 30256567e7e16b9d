// Package dispatch implements the concurrent audio dispatch engine: the
// event bus, rolling audio ingest, per-consumer windowing and worker pool,
// and the result aggregator.
package dispatch

import (
	"fmt"
	"time"
)

// AudioFrame is one contiguous block of PCM samples captured as a unit and
// timestamped at capture. PCM is raw little-endian 16-bit mono (or
// multi-channel interleaved) samples.
type AudioFrame struct {
	ChunkID      string
	PCM          []byte
	TimestampS   float64
	Seq          uint64
	SampleRateHz int
	Channels     int
	DurationMs   float64
	Final        bool
}

// FrameDurationMs derives the duration of pcm in milliseconds for the given
// format, per spec: duration_ms = len(pcm) / (sample_rate_hz * channels * 2) * 1000.
func FrameDurationMs(pcmLen, sampleRateHz, channels int) float64 {
	bytesPerSecond := sampleRateHz * channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return float64(pcmLen) / float64(bytesPerSecond) * 1000.0
}

// NewAudioFrame builds a frame and sets DurationMs from len(pcm) and the
// format (0 for an empty pcm).
func NewAudioFrame(chunkID string, pcm []byte, timestampS float64, seq uint64, sampleRateHz, channels int, final bool) AudioFrame {
	f := AudioFrame{
		ChunkID:      chunkID,
		PCM:          pcm,
		TimestampS:   timestampS,
		Seq:          seq,
		SampleRateHz: sampleRateHz,
		Channels:     channels,
		Final:        final,
	}
	f.DurationMs = FrameDurationMs(len(pcm), sampleRateHz, channels)
	return f
}

// EndTimeS returns the frame's capture end time: TimestampS + its duration.
func (f AudioFrame) EndTimeS() float64 {
	return f.TimestampS + f.DurationMs/1000.0
}

// Task is a unit of work for a worker: one window's worth of frames plus
// their concatenated PCM bytes.
type Task struct {
	Frames  []AudioFrame
	PCM     []byte
	IsFinal bool
}

// FirstFrame and LastFrame panic if Frames is empty; callers only construct
// a Task from a non-empty buffer (see Consumer.OnFrame).
func (t Task) FirstFrame() AudioFrame { return t.Frames[0] }
func (t Task) LastFrame() AudioFrame  { return t.Frames[len(t.Frames)-1] }

// TranscriptionResult is produced by a worker once per completed Task and
// shared with any number of aggregator subscribers.
type TranscriptionResult struct {
	Text            string
	Confidence      float64
	ProcessingTimeS float64
	WallClockTS     time.Time
	ServiceName     string
	Language        string
	Alternatives    []string
	ChunkID         string
	AudioStartS     float64
	AudioEndS       float64
	Mode            string
	IsFinal         bool
	BatchID         string
}

// NoSpeechText is the literal marker used when a backend call returns zero
// hypotheses.
const NoSpeechText = "[NO_SPEECH_DETECTED]"

// BuildChunkID constructs a dispatched task's chunk id:
// "<name>.<first.chunk_id>-<last.chunk_id>.<counter>[-final]".
func BuildChunkID(name string, first, last AudioFrame, counter uint64, isFinal bool) string {
	suffix := fmt.Sprintf("%d", counter)
	if isFinal {
		suffix += "-final"
	}
	return fmt.Sprintf("%s.%s-%s.%s", name, first.ChunkID, last.ChunkID, suffix)
}

// BufferStats mirrors RollingBuffer.Stats(): frame count, byte count,
// oldest/newest timestamp, buffer duration, and configured capacity.
type BufferStats struct {
	FrameCount       int
	TotalBytes       int
	OldestTimestampS float64
	NewestTimestampS float64
	DurationS        float64
	CapacityS        float64
	CapacityBytes    int
}

// ConsumerConfig parameterises a Consumer's windowing policy and pool size.
type ConsumerConfig struct {
	Name           string
	TriggerChunks  int
	MaxWorkers     int
	TaskQueueCap   int
	BackendTimeout time.Duration
}
