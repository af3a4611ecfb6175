// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity already exists.
var ErrConflict = errors.New("already exists")

// ErrValidation indicates malformed or missing input. It is raised before
// any chat event is streamed.
var ErrValidation = errors.New("validation failed")

// ErrUnauthenticated indicates the caller has no resolved identity.
var ErrUnauthenticated = errors.New("unauthenticated")
