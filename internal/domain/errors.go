package domain

import "errors"

// Sentinel errors for the remote-source failure taxonomy. Adapters wrap
// these with context; callers classify with errors.Is.
var (
	// ErrSourceUnavailable means a remote archive could not be reached even
	// after the configured retries. Fatal for the current build.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceFormat means a remote archive answered with something this
	// service cannot interpret (unexpected status, undecodable body).
	// Not retried: the same request would fail the same way.
	ErrSourceFormat = errors.New("source format error")
)
