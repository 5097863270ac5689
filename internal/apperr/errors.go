// Package apperr holds the sentinel errors the API maps to status codes.
package apperr

import "errors"

var (
	// ErrNotFound marks a missing agent, task or snapshot.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a request rejected by the current state, such as a
	// crawl trigger while another crawl runs.
	ErrConflict = errors.New("conflict")
)
