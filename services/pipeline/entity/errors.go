package entity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoChunks means a merge was requested with nothing to process.
	ErrNoChunks = errors.New("no audio chunks to merge")

	// ErrAllChunksUnreadable means every chunk failed to decode.
	ErrAllChunksUnreadable = errors.New("no audio chunks could be decoded")

	// ErrEmptyTranscript means a transcript merge found no entries.
	ErrEmptyTranscript = errors.New("transcript log is empty")

	// ErrBarrierTimeout means the wait for outstanding transcription
	// jobs exceeded its bound.
	ErrBarrierTimeout = errors.New("timed out waiting for transcription jobs to finish")

	// ErrMergeInProgress means a merge of the same kind is already
	// queued or running for the meeting.
	ErrMergeInProgress = errors.New("merge already in progress for this meeting")

	ErrQueueFull    = errors.New("job queue is full")
	ErrJobNotFound  = errors.New("job not found")
	ErrFileNotFound = errors.New("file not found")
)

// CollaboratorError wraps a failure from an external tool or service,
// keeping its own message and captured output intact.
type CollaboratorError struct {
	Collaborator string
	Err          error
	Output       string
}

func (e *CollaboratorError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Collaborator, e.Err, out)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
