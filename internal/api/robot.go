package api

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"medigo/m/domain"
)

const defaultRobotErrorDescription = "Robot reported an error during transport"

func (h *Handler) listTransports(w http.ResponseWriter, r *http.Request) {
	transports := []domain.Transport{}
	err := h.db.SelectContext(r.Context(), &transports,
		`SELECT id, medication_id, patient_id, status, occurred_at FROM transports ORDER BY occurred_at DESC, id DESC`)
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("listing transports: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, transports)
}

func (h *Handler) getTransport(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid transport id")
		return
	}
	var t domain.Transport
	err := h.db.GetContext(r.Context(), &t,
		h.db.Rebind(`SELECT id, medication_id, patient_id, status, occurred_at FROM transports WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		h.respondDomainError(w, r, fmt.Errorf("transport %d: %w", id, domain.ErrNotFound))
		return
	}
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("loading transport %d: %w", id, err))
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (h *Handler) listAlarms(w http.ResponseWriter, r *http.Request) {
	alarms := []domain.Alarm{}
	err := h.db.SelectContext(r.Context(), &alarms,
		`SELECT id, alarm_type, description, occurred_at, status, command_id FROM alarms ORDER BY occurred_at DESC, id DESC`)
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("listing alarms: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, alarms)
}

type robotErrorRequest struct {
	Description string `json:"description"`
	CommandID   *int64 `json:"command_id"`
}

// reportRobotError is called by the transport robot itself, which holds no
// user credentials.
func (h *Handler) reportRobotError(w http.ResponseWriter, r *http.Request) {
	var req robotErrorRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = defaultRobotErrorDescription
	}

	var id int64
	err := h.db.QueryRowxContext(r.Context(),
		h.db.Rebind(`INSERT INTO alarms (alarm_type, description, status, command_id) VALUES (?, ?, ?, ?) RETURNING id`),
		domain.AlarmTypeRobotError, description, domain.AlarmStatusNew, req.CommandID).Scan(&id)
	if err != nil {
		h.respondDomainError(w, r, fmt.Errorf("recording robot alarm: %w", err))
		return
	}

	fields := []zap.Field{zap.Int64("alarm_id", id), zap.String("description", description)}
	if req.CommandID != nil {
		fields = append(fields, zap.Int64("command_id", *req.CommandID))
	}
	h.log.Warn("robot error reported", fields...)
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}
