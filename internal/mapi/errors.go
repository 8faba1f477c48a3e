package mapi

import "errors"

var (
	// ErrInconsistent means the store broke its contract with the cache,
	// e.g. a batch returned a different number of entries than requested.
	ErrInconsistent = errors.New("internal consistency violation")

	// ErrStreamTooLarge is returned when a property stream does not fit an
	// addressable length.
	ErrStreamTooLarge = errors.New("stream is too large to read")

	// ErrStreamClosed is returned by Materialize after Close released the
	// stream unread.
	ErrStreamClosed = errors.New("property stream closed")
)
