package protocol

import "errors"

var (
	// ErrIO reports a transport failure or an unexpected close: the exact
	// number of requested bytes could not be read or written.
	ErrIO = errors.New("protocol: socket error")

	// ErrMalformed reports a payload that was read completely but could not
	// be decoded. The stream is still aligned on the next frame.
	ErrMalformed = errors.New("protocol: malformed message")
)
