// Package recognizer defines the identity matching capability.
package recognizer

import "context"

// Matcher compares a face image against the enrolled household members.
// Implementations are synchronous and CPU-bound, callers dispatch them
// through the shared worker pool. An empty name means no match.
//
// The matcher returns a name only, no distance score, so the event log's
// face_confidence and face_distance columns stay unset until a backend that
// reports distances is wired in.
type Matcher interface {
	Identify(ctx context.Context, imageBytes []byte) (string, error)
}

// Disabled is a Matcher that never matches. Used when face recognition is
// turned off so the pipeline needs no nil checks.
type Disabled struct{}

func (Disabled) Identify(context.Context, []byte) (string, error) { return "", nil }
