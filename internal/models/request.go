// Package models - API request types and input validation.
// This file defines all incoming API request structures with validation.
//
// Validation Philosophy:
// - Fail fast with clear error messages for invalid input
// - Normalize input data for consistent processing (trimmed strings)
// - Separate validation from normalization for clear error reporting
package models

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const maxCartItemLength = 256

// CartAddRequest represents a request to add an item to the shopper's cart.
type CartAddRequest struct {
	Item string `json:"item" validate:"required"` // Item identifier or name
}

func (r *CartAddRequest) Validate() error {
	if r.Item == "" {
		return errors.New("item is required")
	}

	if utf8.RuneCountInString(r.Item) > maxCartItemLength {
		return errors.New("item name is too long")
	}

	return nil
}

func (r *CartAddRequest) Normalize() {
	r.Item = strings.TrimSpace(r.Item)
}
