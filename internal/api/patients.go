package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"medigo/m/domain"
)

const patientColumns = `id, first_name, last_name, national_id, address, phone, ward, bed, created_at`

type patientRequest struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	NationalID string `json:"national_id"`
	Address    string `json:"address"`
	Phone      string `json:"phone"`
	Ward       string `json:"ward"`
	Bed        string `json:"bed"`
}

func (req *patientRequest) validate() error {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.NationalID = strings.TrimSpace(req.NationalID)

	var fields []string
	if req.FirstName == "" {
		fields = append(fields, "first_name is required")
	}
	if req.LastName == "" {
		fields = append(fields, "last_name is required")
	}
	if req.NationalID == "" {
		fields = append(fields, "national_id is required")
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

func (h *Handler) listPatients(w http.ResponseWriter, r *http.Request) {
	patients := []domain.Patient{}
	if err := h.db.SelectContext(r.Context(), &patients, `SELECT `+patientColumns+` FROM patients ORDER BY last_name, first_name`); err != nil {
		h.respondDomainError(w, r, fmt.Errorf("listing patients: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, patients)
}

func (h *Handler) getPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid patient id")
		return
	}
	var patient domain.Patient
	err := h.db.GetContext(r.Context(), &patient, h.db.Rebind(`SELECT `+patientColumns+` FROM patients WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		h.respondDomainError(w, r, domain.ErrPatientNotFound)
		return
	}
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("loading patient %d: %w", id, err))
		return
	}
	respondJSON(w, http.StatusOK, patient)
}

func (h *Handler) createPatient(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleDoctor, domain.RoleReceptionist) {
		return
	}
	var req patientRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	var id int64
	err := h.db.QueryRowxContext(r.Context(),
		h.db.Rebind(`INSERT INTO patients (first_name, last_name, national_id, address, phone, ward, bed) VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		req.FirstName, req.LastName, req.NationalID,
		nullIfEmpty(req.Address), nullIfEmpty(req.Phone), nullIfEmpty(req.Ward), nullIfEmpty(req.Bed)).Scan(&id)
	if isUniqueViolation(err) {
		h.respondDomainError(w, r, fmt.Errorf("national_id: %w", domain.ErrConflict))
		return
	}
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("creating patient: %w", err))
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) updatePatient(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleDoctor, domain.RoleReceptionist) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid patient id")
		return
	}
	var req patientRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	res, err := h.db.ExecContext(r.Context(),
		h.db.Rebind(`UPDATE patients SET first_name = ?, last_name = ?, national_id = ?, address = ?, phone = ?, ward = ?, bed = ? WHERE id = ?`),
		req.FirstName, req.LastName, req.NationalID,
		nullIfEmpty(req.Address), nullIfEmpty(req.Phone), nullIfEmpty(req.Ward), nullIfEmpty(req.Bed), id)
	if isUniqueViolation(err) {
		h.respondDomainError(w, r, fmt.Errorf("national_id: %w", domain.ErrConflict))
		return
	}
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("updating patient %d: %w", id, err))
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		h.respondDomainError(w, r, domain.ErrPatientNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deletePatient removes the patient together with their prescriptions, line
// items and robot commands. Consumed stock is not returned to inventory.
func (h *Handler) deletePatient(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleDoctor, domain.RoleReceptionist) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid patient id")
		return
	}

	ctx := r.Context()
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("starting patient deletion: %w", err))
		return
	}
	defer tx.Rollback()

	cascade := []string{
		`DELETE FROM robot_commands WHERE prescription_id IN (SELECT id FROM prescriptions WHERE patient_id = ?)`,
		`DELETE FROM prescription_medications WHERE prescription_id IN (SELECT id FROM prescriptions WHERE patient_id = ?)`,
		`DELETE FROM prescriptions WHERE patient_id = ?`,
	}
	for _, stmt := range cascade {
		if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), id); err != nil {
			h.respondDomainError(w, r, fmt.Errorf("deleting records of patient %d: %w", id, err))
			return
		}
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM patients WHERE id = ?`), id)
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("deleting patient %d: %w", id, err))
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		h.respondDomainError(w, r, domain.ErrPatientNotFound)
		return
	}
	if err := tx.Commit(); err != nil {
		h.respondDomainError(w, r, fmt.Errorf("committing patient deletion: %w", err))
		return
	}

	h.log.Info("patient deleted", zap.Int64("patient_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) patientPrescriptions(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid patient id")
		return
	}
	rows := []domain.PatientPrescriptionRow{}
	err := h.db.SelectContext(r.Context(), &rows, h.db.Rebind(`SELECT p.id AS prescription_id, p.prescribed_at AS issued_at,
                    u.first_name || ' ' || u.last_name AS doctor,
                    m.id AS medication_id, m.name AS medication_name, pm.dose, pm.frequency
                FROM prescriptions p
                JOIN users u ON u.id = p.prescriber_id
                JOIN prescription_medications pm ON pm.prescription_id = p.id
                JOIN medications m ON m.id = pm.medication_id
                WHERE p.patient_id = ?
                ORDER BY p.prescribed_at DESC, p.id DESC, m.name`), id)
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("loading prescriptions of patient %d: %w", id, err))
		return
	}
	respondJSON(w, http.StatusOK, rows)
}
