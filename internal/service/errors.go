package service

import (
	"errors"
	"fmt"

	"storefront/internal/store"
)

// Error taxonomy surfaced to the HTTP layer
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrBadRequest        = errors.New("bad request")
	ErrInsufficientStock = fmt.Errorf("insufficient stock: %w", ErrBadRequest)
	ErrEmptyCart         = fmt.Errorf("cart is empty: %w", ErrBadRequest)
	ErrConflict          = errors.New("conflict")
)

// translate maps repository errors onto the service taxonomy
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%s: %w", what, ErrConflict)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
