package upload

import "errors"

// Validation errors surfaced to the caller with a 4xx status.
var (
	ErrMissingFile           = errors.New("no file provided")
	ErrMissingUserID         = errors.New("no user id provided")
	ErrInvalidFormat         = errors.New("unsupported file format")
	ErrFileTooLarge          = errors.New("file exceeds maximum size")
	ErrDimensionsOutOfBounds = errors.New("image dimensions out of bounds")
)
