package services

import (
	"errors"
	"fmt"
)

var (
	ErrNoConnectedStores      = errors.New("no connected stores")
	ErrNoMatchingProducts     = errors.New("no matching products")
	ErrProductNotFound        = errors.New("product not found")
	ErrStoreNotFound          = errors.New("store not found")
	ErrDuplicateSKU           = errors.New("a product with this SKU already exists")
	ErrDuplicateStore         = errors.New("a store with this domain already exists")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrConcurrentModification = errors.New("product was modified concurrently, retry the request")
	ErrRunNotFound            = errors.New("sync run not found or not running")
	ErrSyncInProgress         = errors.New("a sync run is in progress")
	ErrNoCredentialStore      = errors.New("no credential store configured")
)

// ValidationError is returned for bad input before any side effect
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is a ValidationError
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
