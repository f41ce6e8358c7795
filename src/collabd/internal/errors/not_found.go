package errors

import (
	stderr "errors"
	"fmt"
)

// RoomNotFoundError is a service domain error for a missing room.
type RoomNotFoundError struct {
	RoomID string
}

// Error is an implementation of the error interface.
func (n *RoomNotFoundError) Error() string {
	return fmt.Sprintf("room %q not found", n.RoomID)
}

// NotFoundRoom returns a room id and true if RoomNotFoundError is part of the
// error chain.
func NotFoundRoom(e error) (_ string, ok bool) {
	var nf *RoomNotFoundError
	if !stderr.As(e, &nf) {
		return "", false
	}
	return nf.RoomID, true
}

// UnsupportedLanguageError reports a language id absent from the runtime
// catalog. State is left untouched when it is returned.
type UnsupportedLanguageError struct {
	Language string
}

// Error is an implementation of the error interface.
func (u *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("unsupported language: %s", u.Language)
}

// IsUnsupportedLanguage reports whether the error chain contains an
// UnsupportedLanguageError.
func IsUnsupportedLanguage(e error) bool {
	var ul *UnsupportedLanguageError
	return stderr.As(e, &ul)
}
