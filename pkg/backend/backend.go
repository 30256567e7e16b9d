// Package backend provides concrete dispatch.SpeechBackend implementations:
// an HTTP multipart adapter and a WebSocket streaming adapter.
package backend

import (
	"time"

	"github.com/lokutor-ai/dispatcher/pkg/dispatch"
)

// Ensure both adapters satisfy the engine's capability set at compile time.
var (
	_ dispatch.SpeechBackend = (*HTTPBackend)(nil)
	_ dispatch.SpeechBackend = (*WSBackend)(nil)
)

// DefaultTimeout is the per-call deadline applied when a caller does not
// already carry a context deadline, matching spec §4.5's ~2s default.
const DefaultTimeout = 2 * time.Second
