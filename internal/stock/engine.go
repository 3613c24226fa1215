package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"medigo/m/domain"
	"medigo/m/internal/metrics"
)

// Engine applies the inventory effects of prescribing. Every operation runs in
// a single transaction: a failure on any line item leaves stock, line items and
// the prescription header exactly as they were.
type Engine struct {
	db      *sqlx.DB
	log     *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

func NewEngine(db *sqlx.DB, log *zap.Logger, m *metrics.Collector) *Engine {
	return &Engine{
		db:      db,
		log:     log,
		metrics: m,
		tracer:  otel.Tracer("medigo/m/internal/stock"),
	}
}

type CreateCommand struct {
	PatientID    int64
	PrescriberID int64
	Items        []LineItem
}

func (c CreateCommand) validate() error {
	var fields []string
	if c.PatientID <= 0 {
		fields = append(fields, "patient_id is required")
	}
	if c.PrescriberID <= 0 {
		fields = append(fields, "prescriber_id is required")
	}
	if err := ValidateItems(c.Items); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			fields = append(fields, verr.Fields...)
		}
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

// CreatePrescription inserts the prescription and its line items and takes the
// required units of each medication from stock, in request order.
func (e *Engine) CreatePrescription(ctx context.Context, cmd CreateCommand) (int64, error) {
	if err := cmd.validate(); err != nil {
		return 0, err
	}

	ctx, span := e.tracer.Start(ctx, "stock.CreatePrescription", trace.WithAttributes(
		attribute.Int64("patient.id", cmd.PatientID),
		attribute.Int("items", len(cmd.Items)),
	))
	defer span.End()

	var (
		prescriptionID int64
		consumed       int
	)
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := rowExists(ctx, tx, `SELECT COUNT(*) FROM patients WHERE id = ?`, cmd.PatientID)
		if err != nil {
			return fmt.Errorf("checking patient: %w", err)
		}
		if !ok {
			return domain.ErrPatientNotFound
		}
		ok, err = rowExists(ctx, tx, `SELECT COUNT(*) FROM users WHERE id = ?`, cmd.PrescriberID)
		if err != nil {
			return fmt.Errorf("checking prescriber: %w", err)
		}
		if !ok {
			return domain.ErrPrescriberNotFound
		}

		err = tx.QueryRowxContext(ctx,
			tx.Rebind(`INSERT INTO prescriptions (patient_id, prescriber_id, prescribed_at) VALUES (?, ?, CURRENT_TIMESTAMP) RETURNING id`),
			cmd.PatientID, cmd.PrescriberID).Scan(&prescriptionID)
		if err != nil {
			return fmt.Errorf("inserting prescription: %w", err)
		}

		for _, item := range cmd.Items {
			units := RequiredUnits(item.DoseMg, item.FrequencyDays)
			if err := take(ctx, tx, item.MedicationID, units); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO prescription_medications (prescription_id, medication_id, dose, frequency) VALUES (?, ?, ?, ?)`),
				prescriptionID, item.MedicationID, FormatDose(item.DoseMg), FormatFrequency(item.FrequencyDays))
			if err != nil {
				return fmt.Errorf("inserting line item for medication %d: %w", item.MedicationID, err)
			}
			e.log.Debug("stock consumed",
				zap.Int64("medication_id", item.MedicationID),
				zap.Int("dose_mg", item.DoseMg),
				zap.Int("frequency_days", item.FrequencyDays),
				zap.Int("units", units),
			)
			consumed += units
		}
		return nil
	})
	if err != nil {
		e.fail(span, "create", err)
		return 0, err
	}

	e.metrics.PrescriptionsCreated.Inc()
	e.metrics.StockUnitsConsumed.Add(float64(consumed))
	span.SetAttributes(attribute.Int64("prescription.id", prescriptionID))
	e.log.Info("prescription created",
		zap.Int64("prescription_id", prescriptionID),
		zap.Int64("patient_id", cmd.PatientID),
		zap.Int64("prescriber_id", cmd.PrescriberID),
		zap.Int("items", len(cmd.Items)),
		zap.Int("units_consumed", consumed),
	)
	return prescriptionID, nil
}

// UpdatePrescription changes dose and frequency of medications already on the
// prescription and moves the difference in required units between stock and
// the prescription. Medications not already on the prescription are rejected.
func (e *Engine) UpdatePrescription(ctx context.Context, prescriptionID int64, items []LineItem) error {
	if err := ValidateItems(items); err != nil {
		return err
	}

	ctx, span := e.tracer.Start(ctx, "stock.UpdatePrescription", trace.WithAttributes(
		attribute.Int64("prescription.id", prescriptionID),
		attribute.Int("items", len(items)),
	))
	defer span.End()

	var consumed, returned int
	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := rowExists(ctx, tx, `SELECT COUNT(*) FROM prescriptions WHERE id = ?`, prescriptionID)
		if err != nil {
			return fmt.Errorf("checking prescription: %w", err)
		}
		if !ok {
			return domain.ErrPrescriptionNotFound
		}

		stored, err := lineItems(ctx, tx, prescriptionID)
		if err != nil {
			return err
		}
		byMedication := make(map[int64]domain.LineItem, len(stored))
		for _, li := range stored {
			byMedication[li.MedicationID] = li
		}

		var unmatched []string
		for i, item := range items {
			if _, ok := byMedication[item.MedicationID]; !ok {
				unmatched = append(unmatched,
					fmt.Sprintf("medications[%d].medication_id %d is not on prescription %d", i, item.MedicationID, prescriptionID))
			}
		}
		if len(unmatched) > 0 {
			return &domain.ValidationError{Fields: unmatched}
		}

		for _, item := range items {
			prev := byMedication[item.MedicationID]
			oldDose, err := ParseDose(prev.Dose)
			if err != nil {
				return err
			}
			oldFrequency, err := ParseFrequency(prev.Frequency)
			if err != nil {
				return err
			}

			oldUnits := RequiredUnits(oldDose, oldFrequency)
			newUnits := RequiredUnits(item.DoseMg, item.FrequencyDays)
			delta := newUnits - oldUnits

			switch {
			case delta > 0:
				if err := take(ctx, tx, item.MedicationID, delta); err != nil {
					return err
				}
				consumed += delta
			case delta < 0:
				if err := restore(ctx, tx, item.MedicationID, -delta); err != nil {
					return err
				}
				returned += -delta
			}

			_, err = tx.ExecContext(ctx,
				tx.Rebind(`UPDATE prescription_medications SET dose = ?, frequency = ? WHERE prescription_id = ? AND medication_id = ?`),
				FormatDose(item.DoseMg), FormatFrequency(item.FrequencyDays), prescriptionID, item.MedicationID)
			if err != nil {
				return fmt.Errorf("updating line item for medication %d: %w", item.MedicationID, err)
			}

			e.log.Debug("stock reconciled",
				zap.Int64("prescription_id", prescriptionID),
				zap.Int64("medication_id", item.MedicationID),
				zap.Int("old_units", oldUnits),
				zap.Int("new_units", newUnits),
				zap.Int("delta", delta),
			)
		}
		return nil
	})
	if err != nil {
		e.fail(span, "update", err)
		return err
	}

	e.metrics.PrescriptionsUpdated.Inc()
	e.metrics.StockUnitsConsumed.Add(float64(consumed))
	e.metrics.StockUnitsReturned.Add(float64(returned))
	e.log.Info("prescription updated",
		zap.Int64("prescription_id", prescriptionID),
		zap.Int("items", len(items)),
		zap.Int("units_consumed", consumed),
		zap.Int("units_returned", returned),
	)
	return nil
}

// EnsureMedicationDeletable fails with ErrMedicationInUse while any
// prescription line item references the medication.
func (e *Engine) EnsureMedicationDeletable(ctx context.Context, medicationID int64) error {
	return ensureUnreferenced(ctx, e.db, medicationID)
}

// DeleteMedication removes a medication that no prescription references.
func (e *Engine) DeleteMedication(ctx context.Context, medicationID int64) error {
	ctx, span := e.tracer.Start(ctx, "stock.DeleteMedication", trace.WithAttributes(
		attribute.Int64("medication.id", medicationID),
	))
	defer span.End()

	err := e.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := ensureUnreferenced(ctx, tx, medicationID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM medications WHERE id = ?`), medicationID)
		if err != nil {
			return fmt.Errorf("deleting medication %d: %w", medicationID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("deleting medication %d: %w", medicationID, err)
		}
		if n == 0 {
			return fmt.Errorf("medication %d: %w", medicationID, domain.ErrMedicationNotFound)
		}
		return nil
	})
	if err != nil {
		e.fail(span, "delete", err)
		return err
	}

	e.log.Info("medication deleted", zap.Int64("medication_id", medicationID))
	return nil
}

func ensureUnreferenced(ctx context.Context, q queryer, medicationID int64) error {
	inUse, err := rowExists(ctx, q, `SELECT COUNT(*) FROM prescription_medications WHERE medication_id = ?`, medicationID)
	if err != nil {
		return fmt.Errorf("checking medication usage: %w", err)
	}
	if inUse {
		return domain.ErrMedicationInUse
	}
	return nil
}

func (e *Engine) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (e *Engine) fail(span trace.Span, operation string, err error) {
	var (
		verr  *domain.ValidationError
		short *domain.InsufficientStockError
	)
	switch {
	case errors.As(err, &short):
		e.metrics.StockRejections.WithLabelValues(operation).Inc()
		e.log.Warn("insufficient stock",
			zap.String("operation", operation),
			zap.Int64("medication_id", short.MedicationID),
			zap.Int64("available", short.Available),
			zap.Int64("required", short.Required),
		)
	case errors.As(err, &verr),
		errors.Is(err, domain.ErrPatientNotFound),
		errors.Is(err, domain.ErrPrescriberNotFound),
		errors.Is(err, domain.ErrMedicationNotFound),
		errors.Is(err, domain.ErrPrescriptionNotFound),
		errors.Is(err, domain.ErrMedicationInUse):
		e.log.Info("prescription write rejected", zap.String("operation", operation), zap.Error(err))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Error("prescription write failed", zap.String("operation", operation), zap.Error(err))
	}
}
