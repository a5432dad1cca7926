package repository

import "errors"

// ErrNotFound is returned when a channel has no persisted record.
var ErrNotFound = errors.New("channel not found")
