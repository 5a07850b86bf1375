package repositories

import "errors"

// Sentinel errors returned by repository implementations. The service layer
// translates them into domain errors; nothing above the services sees these.
var (
	// ErrNotFound indicates the requested row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates an insert violated a uniqueness constraint
	ErrDuplicate = errors.New("duplicate record")
)
