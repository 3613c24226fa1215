package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"medigo/m/domain"
)

// EnsureAdmin creates an active admin account for email unless a user with
// that email already exists. It reports whether a user was created.
func EnsureAdmin(ctx context.Context, db *sqlx.DB, email, password string, log *zap.Logger) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return false, nil
	}

	var n int
	if err := db.GetContext(ctx, &n, db.Rebind(`SELECT COUNT(*) FROM users WHERE email = ?`), email); err != nil {
		return false, fmt.Errorf("checking admin user: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hashing admin password: %w", err)
	}

	username := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		username = email[:at]
	}
	_, err = db.ExecContext(ctx,
		db.Rebind(`INSERT INTO users (first_name, last_name, role, username, email, password, status) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		"System", "Administrator", domain.RoleAdmin, username, email, string(hashed), domain.UserStatusActive)
	if err != nil {
		return false, fmt.Errorf("creating admin user: %w", err)
	}

	log.Info("bootstrap admin created", zap.String("email", email))
	return true, nil
}
