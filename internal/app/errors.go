package app

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrIntegration = errors.New("integration failure")
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	err := domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
	err.Err = ErrNotFound
	return err
}

func invalid(message string, details any) *DomainError {
	err := domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
	err.Err = ErrValidation
	return err
}
