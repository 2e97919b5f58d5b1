package model

import "errors"

var (
	// ErrEmptyContent is returned when an entry is created without a payload.
	ErrEmptyContent = errors.New("empty content")

	// ErrInvalidImportance is returned when importance is outside [0.0, 1.0].
	ErrInvalidImportance = errors.New("importance out of range [0.0, 1.0]")

	// ErrInvalidWeight is returned when a scoring weight is outside [0.0, 1.0].
	ErrInvalidWeight = errors.New("weight out of range [0.0, 1.0]")

	// ErrInvalidMemoryType is returned for a memory type outside the closed set.
	ErrInvalidMemoryType = errors.New("unknown memory type")
)
