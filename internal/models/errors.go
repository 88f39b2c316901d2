package models

import "errors"

var (
	// ErrNotFound: a referenced identity, room, token or entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a conditional write lost a race. Re-read, do not retry blindly.
	ErrConflict = errors.New("conflict")
	// ErrExpired: an invite token is past its TTL.
	ErrExpired = errors.New("expired")
	// ErrValidation: input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden: the caller is not a participant of the room.
	ErrForbidden = errors.New("forbidden")
	// ErrUpstreamUnavailable: the storage or transport boundary failed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
