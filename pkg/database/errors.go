package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps specific CHECK constraint names to domain errors.
// The remaining-quantity bounds check on lots is the database-level backstop
// for the stock invariant; surfacing it as StockInvariantViolation keeps the
// error taxonomy consistent whether the guard fires in SQL or in Go.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "remaining_quantity"):
		return errors.StockInvariantViolation("lot remaining quantity out of bounds")

	case strings.Contains(constraint, "reversed_quantity"):
		return errors.OverReturn("allocation reversal exceeds allocated quantity")

	case strings.Contains(constraint, "quantity_positive"):
		return errors.InvalidQuantity("quantity must be positive")

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "is not a valid status for this document",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "po_no"):
		return "a purchase order with this number already exists"
	case strings.Contains(constraint, "inward_no"):
		return "an inward receipt with this number already exists"
	case strings.Contains(constraint, "bill_no"):
		return "a billing document with this number already exists"
	case strings.Contains(constraint, "return_no"):
		return "a return with this number already exists"
	default:
		return "a record with these values already exists"
	}
}
