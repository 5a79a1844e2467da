package repository

import "errors"

// ErrDuplicate is returned when a record with the same identity already exists.
var ErrDuplicate = errors.New("duplicate record")
