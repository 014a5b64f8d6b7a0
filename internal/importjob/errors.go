package importjob

import "errors"

var (
	// ErrConnection is returned when the queue's backing store is unreachable
	ErrConnection = errors.New("backing store unreachable")

	// ErrMalformedPayload is returned when a dequeued batch is empty,
	// oversized, or undecodable
	ErrMalformedPayload = errors.New("malformed job payload")

	// ErrMissingAuth is returned when a request carries no credential
	ErrMissingAuth = errors.New("missing auth token")

	// ErrUnknownUserAgent is returned when a heartbeat references a
	// user-agent id absent from the requester's catalog
	ErrUnknownUserAgent = errors.New("unknown user agent id")
)
