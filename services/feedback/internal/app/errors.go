package app

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrDuplicateUsername = errors.New("username is already taken")
	ErrDuplicateEmail    = errors.New("email is already registered")
	ErrNotFound          = errors.New("user not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrMessageNotFound   = errors.New("message not found")

	ErrCodeExpired  = errors.New("verification code has expired")
	ErrCodeMismatch = errors.New("incorrect verification code")

	ErrMessagesNotAccepted = errors.New("user is not accepting messages")
	ErrEmptyContent        = errors.New("message content is empty")

	ErrUnauthorized = errors.New("not authenticated")

	// ErrInvalidCredentials covers both unknown identifiers and wrong passwords
	// so responses do not reveal which accounts exist.
	ErrInvalidCredentials = errors.New("incorrect username/email or password")
	ErrNotVerified        = errors.New("please verify your account before signing in")

	ErrTimeout            = errors.New("operation timed out")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
