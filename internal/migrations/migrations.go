package migrations

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"medigo/m/internal/database"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            first_name TEXT NOT NULL,
            last_name TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'receptionist',
            username TEXT NOT NULL UNIQUE,
            email TEXT NOT NULL UNIQUE,
            password TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'active',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE TABLE IF NOT EXISTS patients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            first_name TEXT NOT NULL,
            last_name TEXT NOT NULL,
            national_id TEXT NOT NULL UNIQUE,
            address TEXT,
            phone TEXT,
            ward TEXT,
            bed TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE TABLE IF NOT EXISTS medications (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            description TEXT,
            rfid TEXT UNIQUE,
            stock INTEGER NOT NULL CHECK (stock >= 0)
        );`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            patient_id INTEGER NOT NULL,
            prescriber_id INTEGER NOT NULL,
            prescribed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(patient_id) REFERENCES patients(id),
            FOREIGN KEY(prescriber_id) REFERENCES users(id)
        );`,
	`CREATE TABLE IF NOT EXISTS prescription_medications (
            prescription_id INTEGER NOT NULL,
            medication_id INTEGER NOT NULL,
            dose TEXT NOT NULL,
            frequency TEXT NOT NULL,
            PRIMARY KEY(prescription_id, medication_id),
            FOREIGN KEY(prescription_id) REFERENCES prescriptions(id),
            FOREIGN KEY(medication_id) REFERENCES medications(id)
        );`,
	`CREATE TABLE IF NOT EXISTS robot_commands (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            prescription_id INTEGER NOT NULL,
            medication_id INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(prescription_id) REFERENCES prescriptions(id)
        );`,
	`CREATE TABLE IF NOT EXISTS transports (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            medication_id INTEGER NOT NULL,
            patient_id INTEGER NOT NULL,
            status TEXT NOT NULL,
            occurred_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE TABLE IF NOT EXISTS alarms (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            alarm_type TEXT NOT NULL,
            description TEXT NOT NULL,
            occurred_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            status TEXT NOT NULL,
            command_id INTEGER
        );`,
	`CREATE TABLE IF NOT EXISTS hospital_map (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            upper_half TEXT NOT NULL,
            lower_half TEXT NOT NULL,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE INDEX IF NOT EXISTS idx_prescription_medications_medication ON prescription_medications (medication_id);`,
	`CREATE INDEX IF NOT EXISTS idx_prescriptions_patient ON prescriptions (patient_id, prescribed_at);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'receptionist',
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);`,
	`CREATE TABLE IF NOT EXISTS patients (
			id SERIAL PRIMARY KEY,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			national_id CHAR(13) NOT NULL UNIQUE,
			address TEXT,
			phone TEXT,
			ward TEXT,
			bed TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);`,
	`CREATE TABLE IF NOT EXISTS medications (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			rfid TEXT UNIQUE,
			stock INTEGER NOT NULL CHECK (stock >= 0)
		);`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
			id SERIAL PRIMARY KEY,
			patient_id INTEGER NOT NULL REFERENCES patients(id),
			prescriber_id INTEGER NOT NULL REFERENCES users(id),
			prescribed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	`CREATE TABLE IF NOT EXISTS prescription_medications (
			prescription_id INTEGER NOT NULL REFERENCES prescriptions(id),
			medication_id INTEGER NOT NULL REFERENCES medications(id),
			dose TEXT NOT NULL,
			frequency TEXT NOT NULL,
			PRIMARY KEY(prescription_id, medication_id)
		);`,
	`CREATE TABLE IF NOT EXISTS robot_commands (
			id SERIAL PRIMARY KEY,
			prescription_id INTEGER NOT NULL REFERENCES prescriptions(id),
			medication_id INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);`,
	`CREATE TABLE IF NOT EXISTS transports (
			id SERIAL PRIMARY KEY,
			medication_id INTEGER NOT NULL,
			patient_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			occurred_at TIMESTAMPTZ DEFAULT NOW()
		);`,
	`CREATE TABLE IF NOT EXISTS alarms (
			id SERIAL PRIMARY KEY,
			alarm_type TEXT NOT NULL,
			description TEXT NOT NULL,
			occurred_at TIMESTAMPTZ DEFAULT NOW(),
			status TEXT NOT NULL,
			command_id INTEGER
		);`,
	`CREATE TABLE IF NOT EXISTS hospital_map (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			upper_half TEXT NOT NULL,
			lower_half TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);`,
	`CREATE INDEX IF NOT EXISTS idx_prescription_medications_medication ON prescription_medications (medication_id);`,
	`CREATE INDEX IF NOT EXISTS idx_prescriptions_patient ON prescriptions (patient_id, prescribed_at);`,
}

// Run creates the database schema for the driver behind db.
func Run(ctx context.Context, db *sqlx.DB) error {
	schema := sqliteSchema
	if db.DriverName() == database.DriverPostgres {
		schema = postgresSchema
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
