package dispatch

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
)

// Aggregator subscribes to a result topic, collects TranscriptionResults,
// and flushes a printable summary each time covered audio advances by
// PrintStepS, plus once at shutdown.
type Aggregator struct {
	name        string
	printStepS  float64
	writer      io.Writer
	logger      Logger
	unsubscribe func()

	mu           sync.Mutex
	results      []TranscriptionResult
	haveCoverage bool
	coverStartS  float64
	coverEndS    float64
	nextPrintS   float64
}

// NewAggregator creates an aggregator. printStepS defaults to 5 when <= 0.
func NewAggregator(name string, printStepS float64, writer io.Writer, logger Logger) *Aggregator {
	if printStepS <= 0 {
		printStepS = 5
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Aggregator{
		name:       name,
		printStepS: printStepS,
		writer:     writer,
		logger:     logger,
		nextPrintS: printStepS,
	}
}

// RegisterUnsubscribe stores the callback Shutdown uses to detach from its
// result topic.
func (a *Aggregator) RegisterUnsubscribe(fn func()) {
	a.unsubscribe = fn
}

// OnResult implements spec §4.4's on_result contract: append, update
// coverage, and print a summary for every print_step_s threshold crossed —
// deliberately outside the lock, so I/O never blocks handler delivery.
func (a *Aggregator) OnResult(r TranscriptionResult) {
	prints := a.recordAndCountPrints(r)
	for i := 0; i < prints; i++ {
		a.printSummary(false)
	}
}

func (a *Aggregator) recordAndCountPrints(r TranscriptionResult) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.results = append(a.results, r)

	if r.AudioEndS >= r.AudioStartS {
		if !a.haveCoverage {
			a.coverStartS = r.AudioStartS
			a.coverEndS = r.AudioEndS
			a.haveCoverage = true
		} else {
			if r.AudioStartS < a.coverStartS {
				a.coverStartS = r.AudioStartS
			}
			if r.AudioEndS > a.coverEndS {
				a.coverEndS = r.AudioEndS
			}
		}
	}

	if !a.haveCoverage {
		return 0
	}

	covered := a.coverEndS - a.coverStartS
	prints := 0
	for covered >= a.nextPrintS {
		prints++
		a.nextPrintS += a.printStepS
	}
	return prints
}

// CoveredSeconds returns the current covered-audio span (0 if no coverage
// has been observed yet).
func (a *Aggregator) CoveredSeconds() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.haveCoverage {
		return 0
	}
	return a.coverEndS - a.coverStartS
}

// ResultCount returns the number of results aggregated so far.
func (a *Aggregator) ResultCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Shutdown unsubscribes and prints one final summary, per spec.
func (a *Aggregator) Shutdown() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.printSummary(true)
}

func (a *Aggregator) snapshot() ([]TranscriptionResult, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	results := make([]TranscriptionResult, len(a.results))
	copy(results, a.results)
	covered := 0.0
	if a.haveCoverage {
		covered = a.coverEndS - a.coverStartS
	}
	return results, covered
}

func (a *Aggregator) printSummary(final bool) {
	results, covered := a.snapshot()

	kind := "periodic"
	if final {
		kind = "shutdown"
	}
	a.logger.Info("transcription summary", "aggregator", a.name, "kind", kind,
		"count", len(results), "covered_s", math.Round(covered*100)/100)

	if a.writer == nil {
		return
	}

	fmt.Fprintf(a.writer, "\n%s\n", bannerLine)
	fmt.Fprintf(a.writer, "%s TRANSCRIPTION SUMMARY\n", a.name)
	fmt.Fprintf(a.writer, "%s\n", bannerLine)
	fmt.Fprintf(a.writer, "Total transcriptions: %d (covered %.2fs)\n\n", len(results), covered)

	var combined []string
	for i, r := range results {
		confidence := ""
		if r.Confidence > 0 {
			confidence = fmt.Sprintf(" (%.0f%%)", r.Confidence*100)
		}
		fmt.Fprintf(a.writer, "%2d. %s%s\n", i+1, r.Text, confidence)
		if r.Text != "" && r.Text != NoSpeechText {
			combined = append(combined, r.Text)
		}
	}

	if len(combined) > 0 {
		fmt.Fprintf(a.writer, "\nFULL TRANSCRIPTION:\n%s\n", strings.Join(combined, " "))
	}
	fmt.Fprintf(a.writer, "%s\n", bannerLine)
}

const bannerLine = "============================================================"
