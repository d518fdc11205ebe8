package models

import "errors"

var (
	// ErrTransport marks network or broker failures.
	ErrTransport = errors.New("transport failure")

	// ErrDataIntegrity marks records or payloads a sell cannot proceed with,
	// e.g. a sell without a matching buy.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrConfiguration marks missing or invalid settings at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
)
