package dataset

import "errors"

var (
	// ErrFetch marks network failures and non-2xx responses while downloading the dataset.
	ErrFetch = errors.New("dataset fetch failed")
	// ErrDecompress marks a corrupt or truncated compressed payload.
	ErrDecompress = errors.New("dataset decompress failed")
	// ErrBudgetExceeded is returned by Load when malformed rows exceed the error budget.
	ErrBudgetExceeded = errors.New("load error budget exceeded")
)
