package storage

import "errors"

// ErrNotFound is returned when a session or tab id does not exist.
var ErrNotFound = errors.New("not found")
