package dispatch

import "errors"

var (
	// ErrPipelineClosed is returned by Notify after Close.
	ErrPipelineClosed = errors.New("pipeline closed")

	// ErrEventDrift panics out of a worker when a handler mutated a frozen
	// event field.
	ErrEventDrift = errors.New("event drifted during processing")
	// ErrBadVerdict panics out of a worker when a handler returned a
	// verdict outside Continue/Halt.
	ErrBadVerdict = errors.New("malformed handler verdict")
	// ErrUnknownHandler panics out of a worker when an event names a
	// handler type the resolver does not know.
	ErrUnknownHandler = errors.New("unregistered handler in event")
)
