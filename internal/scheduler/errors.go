package scheduler

import "errors"

var (
	// ErrQueueFull is returned when an event is rejected because the session queue is full (drop=new policy).
	ErrQueueFull = errors.New("session queue is full")

	// ErrQueueDropped is returned when a queued event is evicted to make room (drop=old policy).
	ErrQueueDropped = errors.New("event dropped from queue")

	// ErrLaneStopped is returned when submitting to a stopped lane.
	ErrLaneStopped = errors.New("lane stopped")
)
