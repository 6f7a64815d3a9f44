// Package store - lifecycle controllers of the ephemeral content
package store

import "errors"

// ErrValidation request rejected before anything was persisted
var ErrValidation = errors.New("request validation failed")

// ErrGone the entity is unknown or has expired; the two are never told apart
var ErrGone = errors.New("content is gone")
