// Package common defines shared sentinel errors used across the sync
// core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Local storage errors. Fatal to the current operation, never
	// retried automatically.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// Remote store errors. ErrRemoteUnavailable is transient (network
	// timeout, 5xx); push-phase entries that hit it are retried on the
	// next sync run. ErrRemoteNotFound is treated as success for
	// deletes and as a genuine error for reads and updates.
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	ErrRemoteNotFound    = errors.New("record not found in remote store")
	ErrPermissionDenied  = errors.New("remote store denied access")

	// ErrMalformedRecord means a remote document failed to decode into
	// the typed record model.
	ErrMalformedRecord = errors.New("malformed remote record")

	// Repository-level errors.
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordDeleted  = errors.New("record has a pending delete")

	// Version history errors.
	ErrVersionNotFound = errors.New("version not found")
)
