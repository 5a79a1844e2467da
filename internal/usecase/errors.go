package usecase

import "errors"

// ErrPersist marks a tick that reached history but could not be persisted.
var ErrPersist = errors.New("tick not persisted")
