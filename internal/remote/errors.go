package remote

import (
	"errors"
	"fmt"
)

// Errors returned by Updater.Update, always wrapped in an *UpdateError.
//
//	if errors.Is(err, remote.ErrZoneNotDeployed) {
//	    // the cluster config service cannot be located
//	}
var (
	// ErrZoneNotDeployed is returned when no replicas of the service can be
	// found and the client was told to assume the service exists, or when
	// replicas vanish after data was already received.
	ErrZoneNotDeployed = errors.New("cluster config service is not deployed")

	// ErrNoAcceptableResponse is returned when every replica rejected or
	// failed the request.
	ErrNoAcceptableResponse = errors.New("no acceptable response from cluster config replicas")

	// ErrUnexpectedStatus is returned for a response code the protocol does
	// not define.
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrUnexpectedNotModified is returned for a 304 when the client holds
	// nothing the server could be comparing against.
	ErrUnexpectedNotModified = errors.New("not modified response without a previous result")

	// ErrMissingVersion is returned when a data response carries no
	// Last-Modified header.
	ErrMissingVersion = errors.New("response has no version")

	// ErrUnexpectedPatch is returned when the server sends a patch the
	// client cannot apply: after a protocol switch, without a base tree,
	// or for a protocol that has no patches.
	ErrUnexpectedPatch = errors.New("unexpected patch response")

	// ErrMalformedResponse is returned when a response body cannot be
	// decoded.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnsupportedProtocol is returned for an unknown protocol version.
	ErrUnsupportedProtocol = errors.New("unsupported protocol version")
)

// UpdateError reports a failed remote update.
type UpdateError struct {
	Zone string
	Err  error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("failed to update settings of zone %q from server: %v", e.Zone, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a later cycle may succeed without any
// configuration change.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedProtocol) {
		return false
	}
	return true
}
