package errors

import stderr "errors"

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}

var (
	// ErrNotJoined reports that a connection attempted a room-scoped operation
	// before joining a room.
	ErrNotJoined = New("user not in any room")
	// ErrNoPayloadOnWire reports that the request is missing a payload.
	ErrNoPayloadOnWire = New("no payload on wire")
)

// IsBadRequest reports whether the error is a bad request from the caller.
func IsBadRequest(e error) bool {
	return stderr.Is(e, ErrNotJoined) || stderr.Is(e, ErrNoPayloadOnWire)
}
