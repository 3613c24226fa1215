package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"medigo/m/domain"
	"medigo/m/internal/metrics"
	"medigo/m/internal/stock"
)

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

type AuthConfig struct {
	Secret             string
	TokenTTL           time.Duration
	LoginRatePerMinute int
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db      *sqlx.DB
	engine  *stock.Engine
	log     *zap.Logger
	metrics *metrics.Collector

	secret   string
	tokenTTL time.Duration
	logins   *limiterStore
}

// New constructs a Handler.
func New(db *sqlx.DB, engine *stock.Engine, log *zap.Logger, m *metrics.Collector, auth AuthConfig) *Handler {
	if auth.TokenTTL <= 0 {
		auth.TokenTTL = 12 * time.Hour
	}
	return &Handler{
		db:       db,
		engine:   engine,
		log:      log,
		metrics:  m,
		secret:   auth.Secret,
		tokenTTL: auth.TokenTTL,
		logins:   newLimiterStore(auth.LoginRatePerMinute),
	}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(h.instrument)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.With(h.throttleLogin).Post("/auth/login", h.login)
	r.Post("/robot/error", h.reportRobotError)

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/users", func(r chi.Router) {
			r.Get("/", h.listUsers)
			r.Post("/", h.createUser)
			r.Get("/{id}", h.getUser)
			r.Put("/{id}", h.updateUser)
			r.Delete("/{id}", h.deleteUser)
		})

		pr.Route("/patients", func(r chi.Router) {
			r.Get("/", h.listPatients)
			r.Post("/", h.createPatient)
			r.Get("/{id}", h.getPatient)
			r.Put("/{id}", h.updatePatient)
			r.Delete("/{id}", h.deletePatient)
			r.Get("/{id}/prescriptions", h.patientPrescriptions)
		})

		pr.Route("/medications", func(r chi.Router) {
			r.Get("/", h.listMedications)
			r.Post("/", h.createMedication)
			r.Get("/{id}", h.getMedication)
			r.Put("/{id}", h.updateMedication)
			r.Delete("/{id}", h.deleteMedication)
		})

		pr.Route("/prescriptions", func(r chi.Router) {
			r.Get("/", h.listPrescriptions)
			r.Post("/", h.createPrescription)
			r.Put("/{id}", h.updatePrescription)
			r.Get("/{id}/medications", h.prescriptionMedications)
		})

		pr.Get("/transports", h.listTransports)
		pr.Get("/transports/{id}", h.getTransport)
		pr.Get("/alarms", h.listAlarms)

		pr.Get("/hospital-map", h.getHospitalMap)
		pr.Put("/hospital-map", h.putHospitalMap)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		h.log.Error("health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_ip", r.RemoteAddr),
		)
	})
}

func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.metrics.InFlightGauge.Inc()
		defer h.metrics.InFlightGauge.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		// Route patterns keep label cardinality bounded.
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		h.metrics.RequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		h.metrics.RequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// respondDomainError maps engine and repository errors to HTTP responses.
// Anything unrecognised is logged and hidden behind a 500.
func (h *Handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *domain.ValidationError
		short *domain.InsufficientStockError
	)
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": verr.Fields})
	case errors.As(err, &short):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":         short.Error(),
			"medication_id": short.MedicationID,
			"available":     short.Available,
			"required":      short.Required,
		})
	case errors.Is(err, domain.ErrMedicationInUse):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPatientNotFound),
		errors.Is(err, domain.ErrPrescriberNotFound),
		errors.Is(err, domain.ErrMedicationNotFound),
		errors.Is(err, domain.ErrPrescriptionNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	default:
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// isUniqueViolation recognises unique-constraint failures from both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "foreign key")
}

// Helpers

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
