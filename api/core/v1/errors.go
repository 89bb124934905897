// Copyright The HDF Group.
// SPDX-License-Identifier: Apache-2.0

package corev1

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors returned by the cache, resolver and synchronizer layers.
// Callers are expected to classify failures with errors.Is and decide
// whether to retry (server errors) or treat the result as terminal.
var (
	// ErrNotFound indicates a missing identifier or path segment,
	// including confirmed-negative cache hits.
	ErrNotFound = errors.New("not found")

	// ErrCircularReference indicates a hard-link cycle encountered during
	// path resolution.
	ErrCircularReference = errors.New("circular reference")

	// ErrInvalidPath indicates a non-group traversed as a group, or a
	// nested link title.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotSupported indicates a soft or external link that cannot be
	// resolved locally.
	ErrNotSupported = errors.New("not supported")

	// ErrReadOnly indicates a mutation attempted on a session opened
	// without write intent.
	ErrReadOnly = errors.New("no write intent")

	// ErrUnauthorized and ErrForbidden are propagated from the transport
	// and never retried by the client.
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrConnClosed indicates the owning http connection has been closed
	// while a non-owning handle (such as the node cache) still refers to it.
	ErrConnClosed = errors.New("http connection is closed")

	// ErrInvalidID indicates an identifier with an unknown collection prefix.
	ErrInvalidID = errors.New("invalid object id")
)

// StatusError carries a non-success HTTP status returned by the server.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: server returned status %d", e.Op, e.Code)
}

// Is maps well-known status codes onto the sentinel errors so callers can
// classify a StatusError without inspecting the code directly.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound || e.Code == http.StatusGone
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	default:
		return false
	}
}

// NewStatusError wraps a failing status code for the given operation.
func NewStatusError(op string, code int) error {
	return &StatusError{Op: op, Code: code}
}
