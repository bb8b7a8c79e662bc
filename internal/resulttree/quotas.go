// SPDX-License-Identifier: MPL-2.0

package resulttree

import (
	"errors"
	"fmt"
)

// ErrInvalidQuotas is the sentinel error wrapped by InvalidQuotasError.
var ErrInvalidQuotas = errors.New("invalid dump quotas")

type (
	// Quotas bounds the size of a result tree.
	// All fields are non-negative.
	Quotas struct {
		// MaxDepth is the number of levels that may still carry children.
		// A node built with MaxDepth == 0 is always a leaf.
		MaxDepth int `json:"max_depth" mapstructure:"max_depth"`
		// MaxExpandedDepth is the number of levels rendered expanded by default.
		MaxExpandedDepth int `json:"max_expanded_depth" mapstructure:"max_expanded_depth"`
		// MaxEnumerableLength caps the children emitted for one enumerable.
		MaxEnumerableLength int `json:"max_enumerable_length" mapstructure:"max_enumerable_length"`
		// MaxStringLength caps leaf string values, in runes. Zero disables truncation.
		MaxStringLength int `json:"max_string_length" mapstructure:"max_string_length"`
	}

	// InvalidQuotasError is returned when a quota field is negative.
	// It wraps ErrInvalidQuotas for errors.Is() compatibility.
	InvalidQuotasError struct {
		Field string
		Value int
	}
)

// DefaultQuotas returns the quotas used when none are configured.
func DefaultQuotas() Quotas {
	return Quotas{
		MaxDepth:            4,
		MaxExpandedDepth:    1,
		MaxEnumerableLength: 100,
		MaxStringLength:     10_000,
	}
}

// StepDown returns the quotas for one level deeper in the tree.
// Both depth quotas decrease by one and floor at zero.
func (q Quotas) StepDown() Quotas {
	next := q
	next.MaxDepth = max(q.MaxDepth-1, 0)
	next.MaxExpandedDepth = max(q.MaxExpandedDepth-1, 0)
	return next
}

// Validate returns nil if every field is non-negative.
func (q Quotas) Validate() error {
	fields := []struct {
		name  string
		value int
	}{
		{"max_depth", q.MaxDepth},
		{"max_expanded_depth", q.MaxExpandedDepth},
		{"max_enumerable_length", q.MaxEnumerableLength},
		{"max_string_length", q.MaxStringLength},
	}
	for _, f := range fields {
		if f.value < 0 {
			return &InvalidQuotasError{Field: f.name, Value: f.value}
		}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidQuotasError) Error() string {
	return fmt.Sprintf("invalid dump quotas: %s must be non-negative, got %d", e.Field, e.Value)
}

// Unwrap returns ErrInvalidQuotas for errors.Is() compatibility.
func (e *InvalidQuotasError) Unwrap() error { return ErrInvalidQuotas }
