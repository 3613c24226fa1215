package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"medigo/m/domain"
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func rowExists(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var n int
	if err := q.GetContext(ctx, &n, q.Rebind(query), args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

func currentStock(ctx context.Context, q queryer, medicationID int64) (int64, error) {
	var stock int64
	err := q.GetContext(ctx, &stock, q.Rebind(`SELECT stock FROM medications WHERE id = ?`), medicationID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("medication %d: %w", medicationID, domain.ErrMedicationNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("reading stock of medication %d: %w", medicationID, err)
	}
	return stock, nil
}

// consume takes units from a medication in one conditional statement, so two
// writers can never both pass the stock check on a stale read. It reports
// false when the row is missing or holds fewer than units.
func consume(ctx context.Context, q queryer, medicationID int64, units int) (bool, error) {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE medications SET stock = stock - ? WHERE id = ? AND stock >= ?`),
		units, medicationID, units)
	if err != nil {
		return false, fmt.Errorf("decrementing stock of medication %d: %w", medicationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrementing stock of medication %d: %w", medicationID, err)
	}
	return n == 1, nil
}

func restore(ctx context.Context, q queryer, medicationID int64, units int) error {
	res, err := q.ExecContext(ctx,
		q.Rebind(`UPDATE medications SET stock = stock + ? WHERE id = ?`),
		units, medicationID)
	if err != nil {
		return fmt.Errorf("returning stock to medication %d: %w", medicationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("returning stock to medication %d: %w", medicationID, err)
	}
	if n == 0 {
		return fmt.Errorf("medication %d: %w", medicationID, domain.ErrMedicationNotFound)
	}
	return nil
}

// take consumes units or explains why it could not.
func take(ctx context.Context, q queryer, medicationID int64, units int) error {
	ok, err := consume(ctx, q, medicationID, units)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	available, err := currentStock(ctx, q, medicationID)
	if err != nil {
		return err
	}
	return &domain.InsufficientStockError{
		MedicationID: medicationID,
		Available:    available,
		Required:     int64(units),
	}
}

func lineItems(ctx context.Context, q queryer, prescriptionID int64) ([]domain.LineItem, error) {
	var items []domain.LineItem
	err := q.SelectContext(ctx, &items, q.Rebind(`SELECT prescription_id, medication_id, dose, frequency
                FROM prescription_medications
                WHERE prescription_id = ?`), prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("loading line items of prescription %d: %w", prescriptionID, err)
	}
	return items, nil
}
