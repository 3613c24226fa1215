package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"medigo/m/domain"
	"medigo/m/internal/floorplan"
)

type hospitalMapResponse struct {
	Upper    string   `json:"upper"`
	Lower    string   `json:"lower"`
	Grid     [][]bool `json:"grid"`
	Occupied int      `json:"occupied"`
}

// hospitalMapRequest carries either the two encoded halves or a full grid.
type hospitalMapRequest struct {
	Upper *string  `json:"upper"`
	Lower *string  `json:"lower"`
	Grid  [][]bool `json:"grid"`
}

func mapResponse(g floorplan.Grid) hospitalMapResponse {
	upper, lower := g.Encode()
	return hospitalMapResponse{Upper: upper, Lower: lower, Grid: g.Rows(), Occupied: g.Occupied()}
}

func (h *Handler) getHospitalMap(w http.ResponseWriter, r *http.Request) {
	var stored struct {
		Upper string `db:"upper_half"`
		Lower string `db:"lower_half"`
	}
	err := h.db.GetContext(r.Context(), &stored, `SELECT upper_half, lower_half FROM hospital_map WHERE id = 1`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		h.respondDomainError(w, r, fmt.Errorf("loading hospital map: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, mapResponse(floorplan.Decode(stored.Upper, stored.Lower)))
}

func (h *Handler) putHospitalMap(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req hospitalMapRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var grid floorplan.Grid
	switch {
	case req.Grid != nil:
		g, err := floorplan.FromRows(req.Grid)
		if err != nil {
			h.respondDomainError(w, r, &domain.ValidationError{Fields: []string{err.Error()}})
			return
		}
		grid = g
	case req.Upper != nil || req.Lower != nil:
		var upper, lower string
		if req.Upper != nil {
			upper = *req.Upper
		}
		if req.Lower != nil {
			lower = *req.Lower
		}
		grid = floorplan.Decode(upper, lower)
	default:
		h.respondDomainError(w, r, &domain.ValidationError{Fields: []string{"either grid or upper/lower is required"}})
		return
	}

	upper, lower := grid.Encode()
	_, err := h.db.ExecContext(r.Context(), h.db.Rebind(`INSERT INTO hospital_map (id, upper_half, lower_half, updated_at) VALUES (1, ?, ?, CURRENT_TIMESTAMP)
                ON CONFLICT (id) DO UPDATE SET upper_half = excluded.upper_half, lower_half = excluded.lower_half, updated_at = CURRENT_TIMESTAMP`),
		upper, lower)
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("saving hospital map: %w", err))
		return
	}

	h.log.Info("hospital map updated", zap.Int("occupied", grid.Occupied()))
	respondJSON(w, http.StatusOK, mapResponse(grid))
}
