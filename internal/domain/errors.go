package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedAddress    = errors.New("malformed room address")
	ErrMalformedDescriptor = errors.New("malformed room descriptor")
	ErrResolutionTimeout   = errors.New("room descriptor not found")
	ErrSigningDeclined     = errors.New("signer declined or unavailable")
	ErrNotSupported        = errors.New("room has no control plane")
	ErrNotConnected        = errors.New("no active media session")
	ErrAlreadyConnected    = errors.New("another room is still connected")
	ErrNetwork             = errors.New("network failure")
)

// ConnectionError reports a failed or rejected media connect attempt.
// It is distinct from ErrResolutionTimeout so callers can offer
// different recovery actions.
type ConnectionError struct {
	Reason string
}

func (e *ConnectionError) Error() string {
	return "connection failed: " + e.Reason
}

// ClientErrorCode classifies control-plane 4xx responses.
type ClientErrorCode int

const (
	BadRequest   ClientErrorCode = 400
	Unauthorized ClientErrorCode = 401
	NotFound     ClientErrorCode = 404
)

type ClientError struct {
	Code ClientErrorCode
}

func (e *ClientError) Error() string {
	switch e.Code {
	case BadRequest:
		return "control plane: bad request"
	case Unauthorized:
		return "control plane: unauthorized"
	case NotFound:
		return "control plane: room not found"
	}
	return fmt.Sprintf("control plane: client error %d", int(e.Code))
}

// UnexpectedError is any non-2xx control-plane status outside the
// ClientError set.
type UnexpectedError struct {
	Status int
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("control plane: unexpected status %d", e.Status)
}
