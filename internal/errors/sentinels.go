package errors

import "errors"

// Queue errors.
var (
	// ErrQueueUnavailable means the backing store could not be reached;
	// callers retry at the next tick.
	ErrQueueUnavailable = errors.New("queue: backing store unavailable")
	// ErrBadPayload marks a job whose payload could not be decoded for its kind.
	ErrBadPayload = errors.New("queue: bad payload")
	// ErrUnknownKind marks a job whose kind has no registered handler.
	ErrUnknownKind = errors.New("dispatcher: unknown job kind")
	// ErrNotFound is returned when a job id has no corresponding record.
	ErrNotFound = errors.New("queue: job not found")
)

// GraphQL client errors (C2).
var (
	// ErrGraphQL means the server returned a non-empty errors array.
	ErrGraphQL = errors.New("graphql: server reported errors")
	// ErrEmptyResult means the response had no errors but the field the
	// caller required was null.
	ErrEmptyResult = errors.New("graphql: empty result")
	// ErrTransport means a network, timeout, or 5xx failure reached the
	// client after the breaker allowed the call through.
	ErrTransport = errors.New("graphql: transport failure")
	// ErrCircuitOpen means the breaker refused the call outright.
	ErrCircuitOpen = errors.New("graphql: circuit open")
)

// Cron scheduler errors (C5).
var (
	// ErrNoSuchTask is returned by Enable/Disable for an unregistered name.
	ErrNoSuchTask = errors.New("cron: no such task")
)

// Pub/sub bridge errors (C6).
var (
	// ErrPubSubUnavailable means the dedicated subscriber connection could
	// not be established or was exhausted after all reconnect attempts.
	ErrPubSubUnavailable = errors.New("pubsub: connection unavailable")
)
