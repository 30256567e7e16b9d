package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/dispatcher/pkg/dispatch"
)

// WSBackend is a speech backend that multiplexes many transcription calls
// over one reused WebSocket connection: each call sends the chunk's PCM as
// a binary frame followed by a JSON request envelope, then waits for a
// matching JSON response. Grounded on pkg/providers/tts/lokutor.go's
// connection-reuse-under-mutex pattern (coder/websocket + wsjson), turned
// around from TTS-send/audio-receive to audio-send/text-receive.
type WSBackend struct {
	Host        string
	Scheme      string // "wss" in production; tests override to "ws"
	APIKey      string
	ServiceName string
	Timeout     time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSBackend builds a WSBackend targeting host (e.g. "stt.example.com").
func NewWSBackend(host, apiKey string) *WSBackend {
	return &WSBackend{
		Host:        host,
		Scheme:      "wss",
		APIKey:      apiKey,
		ServiceName: "ws-stt",
		Timeout:     DefaultTimeout,
	}
}

type wsRequest struct {
	ChunkID string `json:"chunk_id"`
}

type wsResponse struct {
	Text         string   `json:"text"`
	Confidence   float64  `json:"confidence"`
	Language     string   `json:"language"`
	Alternatives []string `json:"alternatives"`
	Error        string   `json:"error"`
}

// Initialize dials the backend once; idempotent, like the teacher's
// getConn-on-first-use pattern but eager so a bad config fails fast.
func (b *WSBackend) Initialize(ctx context.Context) error {
	_, err := b.getConn(ctx)
	return err
}

func (b *WSBackend) getConn(ctx context.Context) (*websocket.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return b.conn, nil
	}

	u := url.URL{Scheme: b.Scheme, Host: b.Host, Path: "/ws", RawQuery: "api_key=" + b.APIKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", dispatch.ErrBackendUnavailable, b.Host, err)
	}
	b.conn = conn
	return conn, nil
}

// Transcribe sends pcm as a binary frame then a JSON request envelope
// carrying chunkID, and waits for one JSON response.
func (b *WSBackend) Transcribe(ctx context.Context, chunkID string, pcm []byte) (dispatch.TranscriptionResult, error) {
	if len(pcm) == 0 {
		return dispatch.TranscriptionResult{}, dispatch.ErrEmptyPCM
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	start := time.Now()

	conn, err := b.getConn(ctx)
	if err != nil {
		return dispatch.TranscriptionResult{}, err
	}

	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		b.dropConn()
		return dispatch.TranscriptionResult{}, b.classifyTransportErr(ctx, chunkID, err)
	}
	if err := wsjson.Write(ctx, conn, wsRequest{ChunkID: chunkID}); err != nil {
		b.dropConn()
		return dispatch.TranscriptionResult{}, b.classifyTransportErr(ctx, chunkID, err)
	}

	var resp wsResponse
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		b.dropConn()
		return dispatch.TranscriptionResult{}, b.classifyTransportErr(ctx, chunkID, err)
	}
	if resp.Error != "" {
		return dispatch.TranscriptionResult{}, fmt.Errorf("%w chunk %s: %s", dispatch.ErrBackendAPI, chunkID, resp.Error)
	}

	result := dispatch.TranscriptionResult{
		Text:            resp.Text,
		Confidence:      resp.Confidence,
		ProcessingTimeS: time.Since(start).Seconds(),
		WallClockTS:     time.Now(),
		ServiceName:     b.ServiceName,
		Language:        resp.Language,
		Alternatives:    resp.Alternatives,
		ChunkID:         chunkID,
	}
	if result.Text == "" {
		result.Text = dispatch.NoSpeechText
		result.Confidence = 0
	}
	return result, nil
}

func (b *WSBackend) classifyTransportErr(ctx context.Context, chunkID string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: chunk %s", dispatch.ErrBackendTimeout, chunkID)
	}
	return fmt.Errorf("%w: chunk %s: %v", dispatch.ErrBackendUnavailable, chunkID, err)
}

func (b *WSBackend) dropConn() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close(websocket.StatusAbnormalClosure, "transcribe failed")
		b.conn = nil
	}
}

// Cleanup closes the shared connection, idempotent.
func (b *WSBackend) Cleanup() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		err := b.conn.Close(websocket.StatusNormalClosure, "")
		b.conn = nil
		return err
	}
	return nil
}
