// Package micsource adapts a real microphone device into the dispatch
// engine's AudioSource role: a steady stream of dispatch.AudioFrame
// publishes on audio.frame, ending with one final=true frame on Stop.
// Grounded on cmd/agent/main.go's malgo.InitContext/InitDevice wiring.
package micsource

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
	"github.com/lokutor-ai/dispatcher/pkg/dispatch"
)

// Source captures audio from the default input device and publishes
// dispatch.AudioFrame messages onto an engine's audio bus.
type Source struct {
	SampleRateHz int
	Channels     int
	FrameSamples int

	publish func(dispatch.AudioFrame)

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	seq       atomic.Uint64
	startOnce sync.Once
	startedAt time.Time
	stopped   atomic.Bool
}

// NewSource builds a mic source at the given format. publish is typically
// engine.PublishFrame.
func NewSource(sampleRateHz, channels, frameSamples int, publish func(dispatch.AudioFrame)) *Source {
	return &Source{
		SampleRateHz: sampleRateHz,
		Channels:     channels,
		FrameSamples: frameSamples,
		publish:      publish,
	}
}

// Start initializes the malgo capture device and begins publishing frames.
func (s *Source) Start() error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	s.mctx = mctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.Channels)
	deviceConfig.SampleRate = uint32(s.SampleRateHz)
	deviceConfig.Alsa.NoMMap = 1

	s.startOnce.Do(func() { s.startedAt = time.Now() })

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return fmt.Errorf("init capture device: %w", err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}
	return nil
}

func (s *Source) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if s.stopped.Load() || pInput == nil {
		return
	}
	s.emit(pInput, false)
}

func (s *Source) emit(pcm []byte, final bool) {
	pcmCopy := make([]byte, len(pcm))
	copy(pcmCopy, pcm)

	frame := dispatch.NewAudioFrame(
		uuid.NewString(),
		pcmCopy,
		time.Since(s.startedAt).Seconds(),
		s.seq.Add(1),
		s.SampleRateHz,
		s.Channels,
		final,
	)
	s.publish(frame)
}

// Stop publishes a final, empty frame and releases the capture device. Only
// the first call does this; later calls are no-ops.
func (s *Source) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.emit(nil, true)

	if s.device != nil {
		s.device.Uninit()
	}
	if s.mctx != nil {
		s.mctx.Uninit()
	}
}
