package api

import (
	"fmt"
	"net/http"

	"medigo/m/domain"
	"medigo/m/internal/stock"
)

// createPrescriptionRequest.PrescriberID defaults to the authenticated user.
type createPrescriptionRequest struct {
	PatientID    int64            `json:"patient_id"`
	PrescriberID int64            `json:"prescriber_id"`
	Medications  []stock.LineItem `json:"medications"`
}

type updatePrescriptionRequest struct {
	Medications []stock.LineItem `json:"medications"`
}

func (h *Handler) listPrescriptions(w http.ResponseWriter, r *http.Request) {
	prescriptions := []domain.PrescriptionSummary{}
	err := h.db.SelectContext(r.Context(), &prescriptions, `SELECT p.id, p.patient_id, p.prescriber_id, p.prescribed_at,
                    pt.first_name || ' ' || pt.last_name AS patient_name,
                    u.first_name || ' ' || u.last_name AS doctor_name
                FROM prescriptions p
                JOIN patients pt ON pt.id = p.patient_id
                JOIN users u ON u.id = p.prescriber_id
                ORDER BY p.prescribed_at DESC, p.id DESC`)
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("listing prescriptions: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, prescriptions)
}

// prescriptionMedications lists the line items with the units each one
// currently holds back from stock.
func (h *Handler) prescriptionMedications(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid prescription id")
		return
	}

	var exists int
	if err := h.db.GetContext(r.Context(), &exists, h.db.Rebind(`SELECT COUNT(*) FROM prescriptions WHERE id = ?`), id); err != nil {
		h.respondDomainError(w, r, fmt.Errorf("loading prescription %d: %w", id, err))
		return
	}
	if exists == 0 {
		h.respondDomainError(w, r, domain.ErrPrescriptionNotFound)
		return
	}

	items := []domain.LineItemDetail{}
	err := h.db.SelectContext(r.Context(), &items, h.db.Rebind(`SELECT pm.prescription_id, pm.medication_id, pm.dose, pm.frequency,
                    m.name AS medication_name, m.stock
                FROM prescription_medications pm
                JOIN medications m ON m.id = pm.medication_id
                WHERE pm.prescription_id = ?
                ORDER BY m.name`), id)
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("loading line items of prescription %d: %w", id, err))
		return
	}

	for i := range items {
		dose, err := stock.ParseDose(items[i].Dose)
		if err != nil {
			h.respondDomainError(w, r, err)
			return
		}
		freq, err := stock.ParseFrequency(items[i].Frequency)
		if err != nil {
			h.respondDomainError(w, r, err)
			return
		}
		items[i].RequiredUnits = stock.RequiredUnits(dose, freq)
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) createPrescription(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleDoctor) {
		return
	}
	var req createPrescriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PrescriberID == 0 {
		req.PrescriberID, _ = r.Context().Value(ctxUserID).(int64)
	}

	id, err := h.engine.CreatePrescription(r.Context(), stock.CreateCommand{
		PatientID:    req.PatientID,
		PrescriberID: req.PrescriberID,
		Items:        req.Medications,
	})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"prescription_id": id})
}

func (h *Handler) updatePrescription(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleDoctor) {
		return
	}
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid prescription id")
		return
	}
	var req updatePrescriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.UpdatePrescription(r.Context(), id, req.Medications); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
