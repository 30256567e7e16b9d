package dispatch

import "time"

const AudioFrameTopic = "audio.frame"

// ResultTopic returns the per-consumer result topic name, "transcription.<name>".
func ResultTopic(consumerName string) string {
	return "transcription." + consumerName
}

// Engine owns the bus and wires AudioSource -> Consumers -> Aggregators
// explicitly, rather than relying on any package-level singleton (REDESIGN
// FLAGS: no global mutable state).
type Engine struct {
	audioBus  *Bus[AudioFrame]
	resultBus *Bus[TranscriptionResult]
	logger    Logger

	consumers   []*Consumer
	aggregators []*Aggregator
}

// NewEngine creates an engine with its own audio and result buses.
func NewEngine(logger Logger) *Engine {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Engine{
		audioBus:  NewBus[AudioFrame](logger),
		resultBus: NewBus[TranscriptionResult](logger),
		logger:    logger,
	}
}

// AudioBus exposes the engine's audio bus so an AudioSource adapter can
// publish frames onto it.
func (e *Engine) AudioBus() *Bus[AudioFrame] { return e.audioBus }

// ResultBus exposes the engine's result bus, e.g. for ad-hoc subscribers.
func (e *Engine) ResultBus() *Bus[TranscriptionResult] { return e.resultBus }

// AddConsumer subscribes consumer to audio.frame, starts its worker pool,
// and arranges for its results to publish on transcription.<name>.
func (e *Engine) AddConsumer(consumer *Consumer) {
	topic := ResultTopic(consumer.Name())

	id := e.audioBus.Subscribe(AudioFrameTopic, consumer.OnFrame)
	consumer.RegisterUnsubscribe(func() {
		e.audioBus.Unsubscribe(AudioFrameTopic, id)
	})

	consumer.resultSink = func(r TranscriptionResult) {
		e.resultBus.Publish(topic, r)
	}

	consumer.Start()
	e.consumers = append(e.consumers, consumer)
}

// AddAggregator subscribes aggregator to the named consumer's result topic.
func (e *Engine) AddAggregator(consumerName string, aggregator *Aggregator) {
	topic := ResultTopic(consumerName)

	id := e.resultBus.Subscribe(topic, aggregator.OnResult)
	aggregator.RegisterUnsubscribe(func() {
		e.resultBus.Unsubscribe(topic, id)
	})

	e.aggregators = append(e.aggregators, aggregator)
}

// PublishFrame publishes frame on audio.frame, fanning out to every
// subscribed consumer synchronously on the calling goroutine.
func (e *Engine) PublishFrame(frame AudioFrame) {
	e.audioBus.Publish(AudioFrameTopic, frame)
}

// Shutdown performs the pipeline-wide shutdown order from spec §5: stop
// has already happened by the time this is called (the audio source is an
// external collaborator); here we shut down each consumer, then each
// aggregator. Returns true iff every consumer shut down cleanly.
func (e *Engine) Shutdown(perConsumerTimeout time.Duration) bool {
	allClean := true
	for _, c := range e.consumers {
		if !c.Shutdown(perConsumerTimeout) {
			allClean = false
		}
	}
	for _, a := range e.aggregators {
		a.Shutdown()
	}
	return allClean
}
