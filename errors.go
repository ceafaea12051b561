package openid

import (
	"github.com/pkg/errors"
)

// Sentinel errors for protocol violations and policy rejections.
// Callers may test for these with errors.Is.
var (
	ErrNoReturnTo         = errors.New("openid: return_to not configured")
	ErrReturnToMismatch   = errors.New("openid: return_to mismatch")
	ErrMissingIdentity    = errors.New("openid: openid.identity missing")
	ErrStaleNonce         = errors.New("openid: response_nonce is stale or malformed")
	ErrUnknownMode        = errors.New("openid: unknown openid.mode")
	ErrWrongNamespace     = errors.New("openid: wrong OpenID 2.0 response")
	ErrAssociationInvalid = errors.New("openid: association response invalid")
	ErrSignatureMismatch  = errors.New("openid: signature mismatch")
	ErrDiscoveryFailed    = errors.New("openid: discovery failed")
	ErrTransport          = errors.New("openid: transport failure")

	// ErrInvalidateHandleUnsupported is returned when direct verification
	// answers is_valid:false for an assertion that carries
	// openid.invalidate_handle.
	// This path is not implemented; it surfaces as a recoverable error
	// rather than a silent success.
	ErrInvalidateHandleUnsupported = errors.New("openid: invalidate_handle on failed direct verification is not supported")
)

func errNewf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

func wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

func wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
