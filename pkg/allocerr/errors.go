// Package allocerr defines the error kinds shared by the allocation packages.
//
// Every failure returned by the library wraps exactly one of these sentinels so
// callers can branch with errors.Is.
package allocerr

import "errors"

var (
	// ErrFormat reports a malformed input file or line.
	ErrFormat = errors.New("format error")

	// ErrLookup reports a query for a strategy the store has never seen.
	ErrLookup = errors.New("lookup error")

	// ErrConfiguration reports a missing or invalid algorithm, metric or range.
	ErrConfiguration = errors.New("configuration error")

	// ErrBoundary reports that a walk-forward window could not be anchored.
	ErrBoundary = errors.New("boundary error")

	// ErrNotImplemented reports an unsupported algorithm/metric combination.
	ErrNotImplemented = errors.New("not implemented")

	// ErrEmptyInput reports a metric evaluated over zero strategies or zero days.
	ErrEmptyInput = errors.New("empty input")
)
