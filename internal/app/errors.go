package app

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated marks access-gate failures: missing, invalid or expired
// tokens, revoked sessions and inactive or vanished users. The HTTP layer
// converts it to a redirect to the login view instead of an error page.
var ErrUnauthenticated = errors.New("unauthenticated")

type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}
