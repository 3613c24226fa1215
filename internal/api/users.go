package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"medigo/m/domain"
)

const userColumns = `id, first_name, last_name, role, username, email, status, created_at`

type userRequest struct {
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Role      domain.Role `json:"role"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	Password  string      `json:"password"`
	Status    string      `json:"status"`
}

func (req *userRequest) normalise(creating bool) error {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Role == "" {
		req.Role = domain.RoleReceptionist
	}
	if req.Status == "" {
		req.Status = domain.UserStatusActive
	}

	var fields []string
	if req.FirstName == "" {
		fields = append(fields, "first_name is required")
	}
	if req.LastName == "" {
		fields = append(fields, "last_name is required")
	}
	if req.Username == "" {
		fields = append(fields, "username is required")
	}
	if req.Email == "" {
		fields = append(fields, "email is required")
	}
	if creating && req.Password == "" {
		fields = append(fields, "password is required")
	}
	if !req.Role.IsValid() {
		fields = append(fields, fmt.Sprintf("role %q is not recognised", req.Role))
	}
	if req.Status != domain.UserStatusActive && req.Status != domain.UserStatusInactive {
		fields = append(fields, "status must be active or inactive")
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	users := []domain.User{}
	if err := h.db.SelectContext(r.Context(), &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		h.respondDomainError(w, r, fmt.Errorf("listing users: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var user domain.User
	err := h.db.GetContext(r.Context(), &user, h.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		h.respondDomainError(w, r, domain.ErrUserNotFound)
		return
	}
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("loading user %d: %w", id, err))
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.normalise(true); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}

	var id int64
	err = h.db.QueryRowxContext(r.Context(),
		h.db.Rebind(`INSERT INTO users (first_name, last_name, role, username, email, password, status) VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		req.FirstName, req.LastName, req.Role, req.Username, req.Email, string(hashed), req.Status).Scan(&id)
	if isUniqueViolation(err) {
		h.respondDomainError(w, r, fmt.Errorf("username or email: %w", domain.ErrConflict))
		return
	}
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("creating user: %w", err))
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.normalise(false); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	query := `UPDATE users SET first_name = ?, last_name = ?, role = ?, username = ?, email = ?, status = ? WHERE id = ?`
	args := []any{req.FirstName, req.LastName, req.Role, req.Username, req.Email, req.Status, id}
	if req.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to secure password")
			return
		}
		query = `UPDATE users SET first_name = ?, last_name = ?, role = ?, username = ?, email = ?, status = ?, password = ? WHERE id = ?`
		args = []any{req.FirstName, req.LastName, req.Role, req.Username, req.Email, req.Status, string(hashed), id}
	}

	res, err := h.db.ExecContext(r.Context(), h.db.Rebind(query), args...)
	if isUniqueViolation(err) {
		h.respondDomainError(w, r, fmt.Errorf("username or email: %w", domain.ErrConflict))
		return
	}
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("updating user %d: %w", id, err))
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		h.respondDomainError(w, r, domain.ErrUserNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	res, err := h.db.ExecContext(r.Context(), h.db.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if isForeignKeyViolation(err) {
		h.respondDomainError(w, r, fmt.Errorf("user %d has issued prescriptions: %w", id, domain.ErrConflict))
		return
	}
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("deleting user %d: %w", id, err))
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		h.respondDomainError(w, r, domain.ErrUserNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
