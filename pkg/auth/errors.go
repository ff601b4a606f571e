package auth

import "errors"

var (
	// ErrValidation reports missing or malformed input. It is returned
	// before any database access.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials is the single login failure. It does not say
	// whether the account exists or how it authenticates.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrNotFound reports a lookup by id, token or email that matched nothing.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken reports an email already used by another account.
	ErrEmailTaken = errors.New("email already in use")

	// ErrLastAdmin blocks removing the only remaining admin.
	ErrLastAdmin = errors.New("cannot demote the last admin user")

	// ErrOAuthAccount reports a password operation on an OAuth-only account.
	ErrOAuthAccount = errors.New("account uses GitHub sign-in and has no password")

	// ErrPasswordUnchanged reports a password change to the current password.
	ErrPasswordUnchanged = errors.New("new password must differ from the current password")
)
