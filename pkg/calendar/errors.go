package calendar

import "errors"

// ErrValidation is returned for input the caller has to fix before retrying,
// such as a missing owner or family.
var ErrValidation = errors.New("validation failed")

var ErrNotFound = errors.New("event not found")
