package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// LoadMedications ingests a name,description,rfid,stock CSV into the
// medications table. Rows whose rfid (or, without one, name) already exists
// are skipped, so the loader can run on every start. It returns the number of
// rows inserted.
func LoadMedications(ctx context.Context, db *sqlx.DB, csvPath string, log *zap.Logger) (int, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("opening medication catalogue %s: %w", csvPath, err)
	}
	defer file.Close()
	return loadMedications(ctx, db, file, log)
}

func loadMedications(ctx context.Context, db *sqlx.DB, src io.Reader, log *zap.Logger) (int, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	// Skip header
	if _, err := reader.Read(); err != nil {
		return 0, fmt.Errorf("reading medication header: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting medication seed: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO medications (name, description, rfid, stock) VALUES (?, ?, ?, ?)`))
	if err != nil {
		return 0, fmt.Errorf("preparing medication insert: %w", err)
	}
	defer insert.Close()

	rows := 0
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			log.Warn("skipping unreadable medication row", zap.Int("line", line), zap.Error(err))
			continue
		}
		if len(record) < 4 {
			log.Warn("skipping short medication row", zap.Int("line", line))
			continue
		}

		name := strings.TrimSpace(record[0])
		description := strings.TrimSpace(record[1])
		rfid := strings.TrimSpace(record[2])
		stock, err := strconv.ParseInt(strings.TrimSpace(record[3]), 10, 64)
		if name == "" || err != nil || stock < 0 {
			log.Warn("skipping invalid medication row", zap.Int("line", line), zap.String("name", name))
			continue
		}

		exists, err := medicationExists(ctx, tx, name, rfid)
		if err != nil {
			return rows, err
		}
		if exists {
			continue
		}

		if _, err := insert.ExecContext(ctx, name, nullable(description), nullable(rfid), stock); err != nil {
			return rows, fmt.Errorf("inserting medication %s: %w", name, err)
		}
		rows++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing medication seed: %w", err)
	}
	log.Info("seeded medication catalogue", zap.Int("rows", rows))
	return rows, nil
}

func medicationExists(ctx context.Context, tx *sqlx.Tx, name, rfid string) (bool, error) {
	query, arg := `SELECT COUNT(*) FROM medications WHERE rfid = ?`, rfid
	if rfid == "" {
		query, arg = `SELECT COUNT(*) FROM medications WHERE name = ?`, name
	}
	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(query), arg); err != nil {
		return false, fmt.Errorf("checking medication %s: %w", name, err)
	}
	return n > 0, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
