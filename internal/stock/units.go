package stock

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"medigo/m/domain"
)

const (
	MinDoseMg        = 100
	MaxDoseMg        = 1000
	MinFrequencyDays = 1
	MaxFrequencyDays = 30

	// One stock unit is a 5 g block of active ingredient.
	milligramsPerUnit = 5 * 1000

	doseSuffix      = "mg"
	frequencySuffix = " days"
)

// LineItem is a requested (medication, dose, frequency) entry.
type LineItem struct {
	MedicationID  int64 `json:"medication_id"`
	DoseMg        int   `json:"dose_mg"`
	FrequencyDays int   `json:"frequency_days"`
}

// RequiredUnits converts a dose taken over a number of days into stock units:
// ceil(dose*frequency / 1000 / 5). Any partial 5 g block consumes a full unit.
// Inputs are assumed to be in range.
func RequiredUnits(doseMg, frequencyDays int) int {
	totalMg := doseMg * frequencyDays
	if totalMg <= 0 {
		return 0
	}
	return (totalMg + milligramsPerUnit - 1) / milligramsPerUnit
}

func FormatDose(doseMg int) string {
	return strconv.Itoa(doseMg) + doseSuffix
}

func FormatFrequency(days int) string {
	return strconv.Itoa(days) + frequencySuffix
}

// ParseDose recovers the milligram value from a stored dose such as "500mg".
func ParseDose(stored string) (int, error) {
	return leadingInt(stored, "dose")
}

// ParseFrequency recovers the day count from a stored frequency such as
// "10 days". Older rows carry other labels after the number; only the leading
// digits matter.
func ParseFrequency(stored string) (int, error) {
	return leadingInt(stored, "frequency")
}

func leadingInt(stored, field string) (int, error) {
	s := strings.TrimSpace(stored)
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(s)
	}
	if end == 0 {
		return 0, fmt.Errorf("parsing stored %s %q: no leading number", field, stored)
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, fmt.Errorf("parsing stored %s %q: %w", field, stored, err)
	}
	return n, nil
}

// ValidateItems checks every item before anything is written. All problems are
// reported together.
func ValidateItems(items []LineItem) error {
	var errs []string

	if len(items) == 0 {
		errs = append(errs, "medications must contain at least one item")
	}

	seen := make(map[int64]bool, len(items))
	for i, item := range items {
		if item.MedicationID <= 0 {
			errs = append(errs, fmt.Sprintf("medications[%d].medication_id is required", i))
		} else if seen[item.MedicationID] {
			errs = append(errs, fmt.Sprintf("medications[%d].medication_id %d is listed more than once", i, item.MedicationID))
		}
		seen[item.MedicationID] = true

		if item.DoseMg < MinDoseMg || item.DoseMg > MaxDoseMg {
			errs = append(errs, fmt.Sprintf("medications[%d].dose_mg must be between %d and %d", i, MinDoseMg, MaxDoseMg))
		}
		if item.FrequencyDays < MinFrequencyDays || item.FrequencyDays > MaxFrequencyDays {
			errs = append(errs, fmt.Sprintf("medications[%d].frequency_days must be between %d and %d", i, MinFrequencyDays, MaxFrequencyDays))
		}
	}

	if len(errs) > 0 {
		return &domain.ValidationError{Fields: errs}
	}
	return nil
}
