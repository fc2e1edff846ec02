package app

import (
	"errors"
	"fmt"
	"net/http"

	"gridboard/api/internal/dashboard"
	"gridboard/api/internal/store"
)

// DomainError is a failure with a user-presentable message. Anything that is
// not a DomainError is unexpected: it gets logged in full and the caller sees
// only a generic action-named fallback.
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

// asDomainError classifies known failures from the service and store layers.
// Returns nil for unexpected errors.
func asDomainError(err error) *DomainError {
	var notFound *store.NotFoundError
	if errors.As(err, &notFound) {
		return &DomainError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: notFound.Error()}
	}
	var nameConflict *store.NameConflictError
	if errors.As(err, &nameConflict) {
		return &DomainError{Status: http.StatusConflict, Code: "NAME_CONFLICT", Message: nameConflict.Error()}
	}
	var validation *dashboard.ValidationError
	if errors.As(err, &validation) {
		return &DomainError{Status: http.StatusBadRequest, Code: "VALIDATION", Message: validation.Error()}
	}
	var storage *dashboard.StorageError
	if errors.As(err, &storage) {
		return &DomainError{Status: http.StatusInternalServerError, Code: "STORAGE_IO", Message: storage.Error()}
	}
	return nil
}
