package identity

import "errors"

var (
	// ErrMissingIdentity indicates the request carried no user id.
	ErrMissingIdentity = errors.New("missing user identity")
	// ErrInvalidIdentity indicates a malformed user id or an unverifiable token.
	ErrInvalidIdentity = errors.New("invalid user identity")
)
