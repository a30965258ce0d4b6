package app

import "fmt"

// DomainError is an error with a caller-facing reason code. Everything the
// API refuses to do is expressed as one of a small closed set of codes; the
// HTTP layer translates the code and status, never the raw error text of an
// underlying failure.
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
