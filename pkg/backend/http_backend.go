package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/lokutor-ai/dispatcher/pkg/audio"
	"github.com/lokutor-ai/dispatcher/pkg/dispatch"
)

// HTTPBackend is a speech backend that POSTs each task's PCM, wrapped as a
// WAV file, to a multipart transcription endpoint and decodes a JSON
// {"text": "..."} response. Grounded on pkg/providers/stt/groq.go's form
// upload and pkg/providers/stt/deepgram.go's bearer-auth JSON decode.
type HTTPBackend struct {
	Client       *http.Client
	URL          string
	APIKey       string
	Model        string
	Language     string
	SampleRateHz int
	ServiceName  string
	Timeout      time.Duration
}

// NewHTTPBackend builds an HTTPBackend with sensible defaults.
func NewHTTPBackend(url, apiKey string, sampleRateHz int) *HTTPBackend {
	return &HTTPBackend{
		Client:       http.DefaultClient,
		URL:          url,
		APIKey:       apiKey,
		SampleRateHz: sampleRateHz,
		ServiceName:  "http-stt",
		Timeout:      DefaultTimeout,
	}
}

// Initialize is idempotent; HTTPBackend has no connection to establish.
func (b *HTTPBackend) Initialize(ctx context.Context) error { return nil }

// Cleanup is idempotent; HTTPBackend holds no resources to release.
func (b *HTTPBackend) Cleanup() error { return nil }

// Transcribe uploads pcm as a WAV-wrapped multipart form and decodes the
// response, honoring ctx's deadline (or falling back to b.Timeout).
func (b *HTTPBackend) Transcribe(ctx context.Context, chunkID string, pcm []byte) (dispatch.TranscriptionResult, error) {
	if len(pcm) == 0 {
		return dispatch.TranscriptionResult{}, dispatch.ErrEmptyPCM
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	start := time.Now()

	wavData := audio.NewWavBuffer(pcm, b.SampleRateHz)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if b.Model != "" {
		if err := writer.WriteField("model", b.Model); err != nil {
			return dispatch.TranscriptionResult{}, err
		}
	}
	if b.Language != "" {
		if err := writer.WriteField("language", b.Language); err != nil {
			return dispatch.TranscriptionResult{}, err
		}
	}

	part, err := writer.CreateFormFile("file", chunkID+".wav")
	if err != nil {
		return dispatch.TranscriptionResult{}, err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return dispatch.TranscriptionResult{}, err
	}
	if err := writer.Close(); err != nil {
		return dispatch.TranscriptionResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, body)
	if err != nil {
		return dispatch.TranscriptionResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}

	resp, err := b.Client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return dispatch.TranscriptionResult{}, fmt.Errorf("%w: chunk %s", dispatch.ErrBackendTimeout, chunkID)
		}
		return dispatch.TranscriptionResult{}, fmt.Errorf("%w: chunk %s: %v", dispatch.ErrBackendUnavailable, chunkID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return dispatch.TranscriptionResult{}, fmt.Errorf("%w (status %d) chunk %s: %s",
			dispatch.ErrBackendAPI, resp.StatusCode, chunkID, string(respBody))
	}

	var decoded struct {
		Text         string   `json:"text"`
		Language     string   `json:"language"`
		Alternatives []string `json:"alternatives"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return dispatch.TranscriptionResult{}, fmt.Errorf("%w: chunk %s: decode: %v", dispatch.ErrBackendAPI, chunkID, err)
	}

	result := dispatch.TranscriptionResult{
		Text:            decoded.Text,
		Confidence:      1.0,
		ProcessingTimeS: time.Since(start).Seconds(),
		WallClockTS:     time.Now(),
		ServiceName:     b.ServiceName,
		Language:        decoded.Language,
		Alternatives:    decoded.Alternatives,
		ChunkID:         chunkID,
	}
	if result.Text == "" {
		result.Text = dispatch.NoSpeechText
		result.Confidence = 0
	}
	return result, nil
}
