package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrNoActions is returned when a decision without actions is submitted for
// auditing. Such decisions have no intent to record.
var ErrNoActions = errors.New("storage: decision has no actions")
