package multistore

import "errors"

var (
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrKeyNotFound      = errors.New("key not found")
	ErrNoRow            = errors.New("no row")

	// ErrInvalidArgument reports caller misuse. It is always returned before
	// any statement reaches the database.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOptimisticLock is returned when an update of a versioned entity
	// matched no row for the expected version.
	ErrOptimisticLock = errors.New("optimistic lock failure")

	// ErrGeneratedKeys is returned when a bulk insert reported a different
	// number of generated keys than rows submitted.
	ErrGeneratedKeys = errors.New("generated keys mismatch")

	ErrDataSourceNotFound = errors.New("datasource not found")
	ErrUnsupportedDriver  = errors.New("unsupported driver")
	ErrInvalidConfig      = errors.New("invalid config")
)
