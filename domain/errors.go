package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrPrescriberNotFound   = errors.New("prescriber not found")
	ErrMedicationNotFound   = errors.New("medication not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrUserNotFound         = errors.New("user not found")

	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrMedicationInUse    = errors.New("medication is referenced by a prescription")
	ErrConflict           = errors.New("record already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// InsufficientStockError reports a medication whose stock cannot cover the
// requested units. Required is the additional amount needed, which on an edit
// is the positive delta rather than the full consumption.
type InsufficientStockError struct {
	MedicationID int64
	Available    int64
	Required     int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for medication %d: available %d, required %d",
		e.MedicationID, e.Available, e.Required)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
