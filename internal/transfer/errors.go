package transfer

import "errors"

// TransferErrorCode is the wire form of a transfer failure. Every failure
// is surfaced to the caller; a failed transfer always leaves the player in
// the source server's custody.
type TransferErrorCode string

const (
	CodeTokenNotFound      TransferErrorCode = "token_not_found"
	CodeTokenExpired       TransferErrorCode = "token_expired"
	CodeTokenAlreadyUsed   TransferErrorCode = "token_already_used"
	CodeWrongServer        TransferErrorCode = "wrong_server"
	CodeTargetUnavailable  TransferErrorCode = "target_unavailable"
	CodeTargetOverCapacity TransferErrorCode = "target_over_capacity"
	CodeCancelled          TransferErrorCode = "cancelled"
)

var (
	ErrTokenNotFound      = errors.New("transfer: token not found")
	ErrTokenExpired       = errors.New("transfer: token expired")
	ErrTokenAlreadyUsed   = errors.New("transfer: token already used")
	ErrWrongServer        = errors.New("transfer: token bound to a different server")
	ErrTargetUnavailable  = errors.New("transfer: target server unavailable")
	ErrTargetOverCapacity = errors.New("transfer: target server at capacity")
	ErrCancelled          = errors.New("transfer: cancelled")
)

// CodeForError maps a transfer error to its wire code.
func CodeForError(err error) TransferErrorCode {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return CodeTokenNotFound
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, ErrTokenAlreadyUsed):
		return CodeTokenAlreadyUsed
	case errors.Is(err, ErrWrongServer):
		return CodeWrongServer
	case errors.Is(err, ErrTargetUnavailable):
		return CodeTargetUnavailable
	case errors.Is(err, ErrTargetOverCapacity):
		return CodeTargetOverCapacity
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	}
	return ""
}
