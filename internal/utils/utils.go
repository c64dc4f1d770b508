// Package utils provides common utility functions for data validation.
//
// This package contains utilities for working with market data identifiers,
// including validating instrument symbols before they are admitted into
// subscriptions or consolidation.
package utils

import (
	"errors"
	"fmt"
	"strings"
)

// Error definitions for validation functions
var (
	ErrNoSymbols      = errors.New("zero symbols requested")
	ErrTooManySymbols = errors.New("too many symbols requested")
)

// MaxSymbolLength bounds the accepted symbol length. Exchange tickers and
// BASE-QUOTE pairs both fit comfortably under this limit.
const MaxSymbolLength = 24

// ValidateSymbol validates that an instrument symbol is well formed.
//
// Accepted symbols are non-empty, at most MaxSymbolLength characters, and
// consist of uppercase letters, digits, dots and dashes. A dash, when
// present, separates non-empty segments (e.g. "BTC-USD"); leading or
// trailing dashes are rejected.
//
// Validation is case-sensitive: lowercase symbols are rejected rather than
// folded, so callers normalize before registering.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return errors.New("symbol cannot be empty")
	}

	if len(symbol) > MaxSymbolLength {
		return fmt.Errorf("symbol too long: %d characters, maximum %d",
			len(symbol), MaxSymbolLength)
	}

	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-':
		default:
			return fmt.Errorf("invalid character %q in symbol %q", r, symbol)
		}
	}

	for _, part := range strings.Split(symbol, "-") {
		if part == "" {
			return fmt.Errorf("invalid symbol format: empty segment in %q", symbol)
		}
	}

	return nil
}

// ValidateSymbols validates a slice of instrument symbols and enforces
// quantity limits.
//
// This function performs two types of validation:
//  1. Quantity validation: Ensures the number of symbols is within acceptable limits
//  2. Format validation: Validates each symbol using ValidateSymbol
func ValidateSymbols(symbols []string, maxAllowed int) error {
	if len(symbols) == 0 {
		return ErrNoSymbols
	}

	if maxAllowed <= 0 {
		return fmt.Errorf("%w: max allowed must be positive, got %d",
			ErrTooManySymbols, maxAllowed)
	}

	if len(symbols) > maxAllowed {
		return fmt.Errorf("%w: requested %d symbols, maximum allowed %d",
			ErrTooManySymbols, len(symbols), maxAllowed)
	}

	for i, symbol := range symbols {
		if err := ValidateSymbol(symbol); err != nil {
			return fmt.Errorf("invalid symbol at index %d (%q): %w", i, symbol, err)
		}
	}

	return nil
}
