package repository

import "errors"

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDatabase wraps driver failures
	ErrDatabase = errors.New("database error")
	// ErrVersionConflict is returned when a version-guarded update matches no row
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate is returned when a unique key already exists
	ErrDuplicate = errors.New("duplicate")
)
