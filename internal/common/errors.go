// Package common defines shared constants and sentinel errors used across
// the media engine. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Source and local I/O errors.
	ErrInvalidSource = errors.New("invalid source")
	ErrIO            = errors.New("i/o error")

	// Remote errors. ErrNetwork is matched by transport failures in addition
	// to ErrRemoteAPI.
	ErrNetwork   = errors.New("network error")
	ErrRemoteAPI = errors.New("remote api error")

	// State machine errors.
	ErrInvalidState       = errors.New("invalid state")
	ErrDuplicateOperation = errors.New("operation already in progress")

	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	ErrCanceled = errors.New("canceled")
)

// RemoteError wraps a gateway failure with the operation it belongs to and
// whether retrying the same request may succeed.
type RemoteError struct {
	Op        string
	Transient bool
	Network   bool
	Err       error
}

func (e *RemoteError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s remote failure: %v", e.Op, kind, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is makes every RemoteError match ErrRemoteAPI, and transport failures
// additionally match ErrNetwork.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRemoteAPI:
		return true
	case ErrNetwork:
		return e.Network
	}
	return false
}

// IsTransient reports whether err carries a RemoteError marked as transient.
func IsTransient(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Transient
	}
	return false
}
