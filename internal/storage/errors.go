package storage

import "errors"

// ErrNotFound is returned when a requested row (connector, registry
// entry, channel, key) does not exist. Callers match it with errors.Is.
var ErrNotFound = errors.New("storage: not found")
