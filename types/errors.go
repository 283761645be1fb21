package types

import "errors"

// Error taxonomy shared by every package. Errors are returned wrapped with
// context, test them with errors.Is.
var (
	// ErrConfiguration reports domain parameters that cannot be set up.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidArgument reports a caller error, e.g. a zero shift vector.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrProtocolInconsistency reports ranks that disagree on the patch table
	// or the exchange plan. It is fatal.
	ErrProtocolInconsistency = errors.New("protocol inconsistency")
	// ErrCommunicationFailure reports a transport level failure. It is fatal.
	ErrCommunicationFailure = errors.New("communication failure")
)
