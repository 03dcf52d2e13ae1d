package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and the ledger translates them into domain errors:
// - ErrNotFound: no record exists for the identity
// - ErrConflict: a concurrent writer won and retries were exhausted
// - ErrUnavailable: the backend could not be reached
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
