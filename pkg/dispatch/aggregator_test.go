package dispatch

import (
	"bytes"
	"strings"
	"testing"
)

func result(start, end float64, text string) TranscriptionResult {
	return TranscriptionResult{AudioStartS: start, AudioEndS: end, Text: text}
}

func TestAggregatorPeriodicPrintCount(t *testing.T) {
	var buf bytes.Buffer
	agg := NewAggregator("realtime", 5, &buf, nil)

	// Covered span grows from 0 to 23s in 1s steps; expect floor(23/5) = 4
	// periodic prints plus one at Shutdown.
	for i := 0; i < 23; i++ {
		agg.OnResult(result(float64(i), float64(i+1), "word"))
	}

	periodicPrints := strings.Count(buf.String(), "TRANSCRIPTION SUMMARY")
	if periodicPrints != 4 {
		t.Errorf("expected 4 periodic prints for 23s covered at step 5, got %d", periodicPrints)
	}

	agg.Shutdown()
	total := strings.Count(buf.String(), "TRANSCRIPTION SUMMARY")
	if total != 5 {
		t.Errorf("expected 5 total prints after shutdown, got %d", total)
	}
}

func TestAggregatorCoveredSecondsSpansEarliestStartToLatestEnd(t *testing.T) {
	agg := NewAggregator("batch", 100, nil, nil)

	agg.OnResult(result(0, 2, "a"))
	agg.OnResult(result(2, 5, "b"))
	agg.OnResult(result(1, 3, "c")) // overlaps, should not double count

	covered := agg.CoveredSeconds()
	if covered != 5 {
		t.Errorf("expected covered span of 5s, got %v", covered)
	}
}

func TestAggregatorResultCount(t *testing.T) {
	agg := NewAggregator("batch", 100, nil, nil)

	agg.OnResult(result(0, 1, "a"))
	agg.OnResult(result(1, 2, "b"))
	agg.OnResult(result(2, 3, "c"))

	if agg.ResultCount() != 3 {
		t.Errorf("expected 3 results, got %d", agg.ResultCount())
	}
}

func TestAggregatorNoSpeechExcludedFromFullTranscription(t *testing.T) {
	var buf bytes.Buffer
	agg := NewAggregator("realtime", 100, &buf, nil)

	agg.OnResult(result(0, 1, "hello"))
	agg.OnResult(result(1, 2, NoSpeechText))
	agg.Shutdown()

	out := buf.String()
	if !strings.Contains(out, "FULL TRANSCRIPTION:\nhello\n") {
		t.Errorf("expected combined transcription to contain only real speech, got:\n%s", out)
	}
}

func TestAggregatorShutdownUnsubscribes(t *testing.T) {
	agg := NewAggregator("realtime", 5, nil, nil)

	called := false
	agg.RegisterUnsubscribe(func() { called = true })
	agg.Shutdown()

	if !called {
		t.Error("expected Shutdown to invoke the registered unsubscribe callback")
	}
}
