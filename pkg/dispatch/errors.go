package dispatch

import "errors"

var (
	// ErrBackendTimeout means the backend did not respond within its
	// per-call deadline.
	ErrBackendTimeout = errors.New("speech backend call exceeded its deadline")

	// ErrBackendUnavailable means the backend could not be reached at all.
	ErrBackendUnavailable = errors.New("speech backend is unavailable")

	// ErrBackendAPI means the backend responded but reported an error.
	ErrBackendAPI = errors.New("speech backend returned an API error")

	// ErrEmptyPCM is returned by a backend's Transcribe when it is given no
	// audio bytes. Workers never hit it: they skip the backend call for a
	// task with empty PCM.
	ErrEmptyPCM = errors.New("task has no audio bytes to transcribe")

	// ErrNoFramesInTask describes a Task with no frames. Nothing in this
	// package returns it: OnFrame never builds such a Task, and a worker
	// skips one without an error.
	ErrNoFramesInTask = errors.New("task has no frames")
)
