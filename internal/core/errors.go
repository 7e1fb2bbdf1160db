package core

import "errors"

// Error codes for protocol errors sent to clients.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeInvalidUser       = "invalid_user"
	ErrCodeUnauthenticated   = "unauthenticated"
	ErrCodeNotMember         = "not_member"
	ErrCodeDatabase          = "database_error"
	ErrCodeAlreadyIdentified = "already_identified"
)

var (
	// ErrConnClosed is returned when writing to a closed connection.
	ErrConnClosed = errors.New("connection closed")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

var (
	errUserIDRequired    = coreError(ErrCodeBadRequest, "User ID is required")
	errInvalidUser       = coreError(ErrCodeInvalidUser, "Invalid User ID")
	errUnauthenticated   = coreError(ErrCodeUnauthenticated, "Unauthenticated")
	errAlreadyIdentified = coreError(ErrCodeAlreadyIdentified, "Already identified")
	errChannelRequired   = coreError(ErrCodeBadRequest, "Channel ID is required")
	errContentTooLong    = coreError(ErrCodeBadRequest, "Message content is too long")
	errNotMember         = coreError(ErrCodeNotMember, "You are not a member of this channel")
	errDatabase          = coreError(ErrCodeDatabase, "Database error")
)
