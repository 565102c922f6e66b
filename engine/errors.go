package engine

import (
	"errors"
	"fmt"

	"github.com/schemaflow/schemaflow/engine/execution"
	"github.com/schemaflow/schemaflow/engine/locator"
	"github.com/schemaflow/schemaflow/store"
)

// Sentinel errors re-exported so callers deal with one package.
var (
	ErrCancelled        = execution.ErrCancelled
	ErrUserCancelled    = execution.ErrUserCancelled
	ErrUserInputTimeout = execution.ErrUserInputTimeout
)

// ValidationError reports a workflow document the engine refuses to run.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow: %s", e.Reason)
}

// LocationError is the locator's exhaustion error, re-exported so callers
// handling run failures deal with one package.
type LocationError = locator.LocationError

// PersistenceError is the store's save failure, re-exported likewise.
type PersistenceError = store.PersistenceError

// BrowserConnectionError reports a failure to establish a browser session.
type BrowserConnectionError struct {
	Err error
}

func (e *BrowserConnectionError) Error() string {
	return fmt.Sprintf("browser connection failed: %v", e.Err)
}

func (e *BrowserConnectionError) Unwrap() error { return e.Err }

// isCancellation reports whether err represents any form of cancellation.
func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrUserCancelled)
}
