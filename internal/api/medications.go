package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"medigo/m/domain"
)

const medicationColumns = `id, name, description, rfid, stock`

type medicationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	RFID        string `json:"rfid"`
	Stock       *int64 `json:"stock"`
}

func (req *medicationRequest) validate() error {
	req.Name = strings.TrimSpace(req.Name)

	var fields []string
	if req.Name == "" {
		fields = append(fields, "name is required")
	}
	if req.Stock == nil {
		fields = append(fields, "stock is required")
	} else if *req.Stock < 0 {
		fields = append(fields, "stock must not be negative")
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}
	return nil
}

func (h *Handler) listMedications(w http.ResponseWriter, r *http.Request) {
	medications := []domain.Medication{}
	if err := h.db.SelectContext(r.Context(), &medications, `SELECT `+medicationColumns+` FROM medications ORDER BY name`); err != nil {
		h.respondDomainError(w, r, fmt.Errorf("listing medications: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, medications)
}

func (h *Handler) getMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	var med domain.Medication
	err := h.db.GetContext(r.Context(), &med, h.db.Rebind(`SELECT `+medicationColumns+` FROM medications WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		h.respondDomainError(w, r, domain.ErrMedicationNotFound)
		return
	}
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("loading medication %d: %w", id, err))
		return
	}
	respondJSON(w, http.StatusOK, med)
}

func (h *Handler) createMedication(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RolePharmacist) {
		return
	}
	var req medicationRequest
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
		h.db.Rebind(`INSERT INTO medications (name, description, rfid, stock) VALUES (?, ?, ?, ?) RETURNING id`),
		req.Name, nullIfEmpty(req.Description), nullIfEmpty(req.RFID), *req.Stock).Scan(&id)
	if isUniqueViolation(err) {
		h.respondDomainError(w, r, fmt.Errorf("rfid: %w", domain.ErrConflict))
		return
	}
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("creating medication: %w", err))
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// updateMedication overwrites the catalogue entry, including the stock count;
// it is how a pharmacist records a restock or a physical count.
func (h *Handler) updateMedication(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RolePharmacist) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	var req medicationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	res, err := h.db.ExecContext(r.Context(),
		h.db.Rebind(`UPDATE medications SET name = ?, description = ?, rfid = ?, stock = ? WHERE id = ?`),
		req.Name, nullIfEmpty(req.Description), nullIfEmpty(req.RFID), *req.Stock, id)
	if isUniqueViolation(err) {
		h.respondDomainError(w, r, fmt.Errorf("rfid: %w", domain.ErrConflict))
		return
	}
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("updating medication %d: %w", id, err))
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		h.respondDomainError(w, r, domain.ErrMedicationNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteMedication(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RolePharmacist) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	if err := h.engine.DeleteMedication(r.Context(), id); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
