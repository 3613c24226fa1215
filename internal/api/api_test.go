package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"medigo/m/domain"
	"medigo/m/internal/database"
	"medigo/m/internal/metrics"
	"medigo/m/internal/migrations"
	"medigo/m/internal/stock"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

type testServer struct {
	t       *testing.T
	db      *sqlx.DB
	handler *Handler
	router  http.Handler

	users map[domain.Role]int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := database.Connect(ctx, filepath.Join(t.TempDir(), "api.db"), 1)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(ctx, db))

	log := zaptest.NewLogger(t)
	m := metrics.NewCollector(prometheus.NewRegistry())
	h := New(db, stock.NewEngine(db, log, m), log, m, AuthConfig{
		Secret:             testSecret,
		TokenTTL:           time.Hour,
		LoginRatePerMinute: 3,
	})

	s := &testServer{t: t, db: db, handler: h, router: h.Router(), users: map[domain.Role]int64{}}
	for _, role := range []domain.Role{domain.RoleAdmin, domain.RoleDoctor, domain.RolePharmacist, domain.RoleReceptionist} {
		s.users[role] = s.insertUser(string(role), role, domain.UserStatusActive)
	}
	return s
}

func (s *testServer) insertUser(username string, role domain.Role, status string) int64 {
	s.t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("secret-"+username), bcrypt.MinCost)
	require.NoError(s.t, err)
	res, err := s.db.Exec(`INSERT INTO users (first_name, last_name, role, username, email, password, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"First", strings.ToUpper(username[:1])+username[1:], role, username, username+"@hospital.test", string(hashed), status)
	require.NoError(s.t, err)
	id, _ := res.LastInsertId()
	return id
}

func (s *testServer) token(role domain.Role) string {
	s.t.Helper()
	tok, err := s.handler.generateToken(s.users[role], role)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path string, role domain.Role, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(role))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) patient(nationalID string) int64 {
	s.t.Helper()
	res, err := s.db.Exec(`INSERT INTO patients (first_name, last_name, national_id) VALUES ('Maria', 'Ionescu', ?)`, nationalID)
	require.NoError(s.t, err)
	id, _ := res.LastInsertId()
	return id
}

func (s *testServer) medication(name string, stockUnits int64) int64 {
	s.t.Helper()
	res, err := s.db.Exec(`INSERT INTO medications (name, stock) VALUES (?, ?)`, name, stockUnits)
	require.NoError(s.t, err)
	id, _ := res.LastInsertId()
	return id
}

func (s *testServer) stock(id int64) int64 {
	s.t.Helper()
	var n int64
	require.NoError(s.t, s.db.Get(&n, `SELECT stock FROM medications WHERE id = ?`, id))
	return n
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/health", "", nil)

	rec := s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "medigo_http_requests_total")
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	s.insertUser("retired", domain.RoleDoctor, domain.UserStatusInactive)

	rec := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "DOCTOR@hospital.test", "password": "secret-doctor"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[authResponse](t, rec)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, domain.RoleDoctor, resp.User.Role)
	assert.Empty(t, resp.User.Password)

	rec = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "retired", "password": "secret-retired"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginIsThrottled(t *testing.T) {
	s := newTestServer(t)
	creds := map[string]string{"username": "nobody", "password": "x"}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/auth/login", "", creds).Code)
	}
	rec := s.do(http.MethodPost, "/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestAuthAndRoleGating(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/patients", "", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/patients", domain.RoleReceptionist, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/users", domain.RoleDoctor, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/prescriptions", domain.RolePharmacist, map[string]any{}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/medications", domain.RoleReceptionist, map[string]any{}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPut, "/hospital-map", domain.RoleDoctor, map[string]any{}).Code)
}

func TestPrescriptionLifecycle(t *testing.T) {
	s := newTestServer(t)
	patientID := s.patient("2800101123456")
	medID := s.medication("Paracetamol", 10)

	rec := s.do(http.MethodPost, "/prescriptions", domain.RoleDoctor, map[string]any{
		"patient_id":  patientID,
		"medications": []map[string]any{{"medication_id": medID, "dose_mg": 500, "frequency_days": 10}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]int64](t, rec)
	prescriptionID := created["prescription_id"]
	require.Positive(t, prescriptionID)
	assert.EqualValues(t, 9, s.stock(medID))

	var prescriber int64
	require.NoError(t, s.db.Get(&prescriber, `SELECT prescriber_id FROM prescriptions WHERE id = ?`, prescriptionID))
	assert.Equal(t, s.users[domain.RoleDoctor], prescriber)

	rec = s.do(http.MethodPut, fmt.Sprintf("/prescriptions/%d", prescriptionID), domain.RoleDoctor, map[string]any{
		"medications": []map[string]any{{"medication_id": medID, "dose_mg": 1000, "frequency_days": 10}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.EqualValues(t, 8, s.stock(medID))

	rec = s.do(http.MethodGet, fmt.Sprintf("/prescriptions/%d/medications", prescriptionID), domain.RolePharmacist, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]domain.LineItemDetail](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "Paracetamol", items[0].MedicationName)
	assert.Equal(t, "1000mg", items[0].Dose)
	assert.Equal(t, "10 days", items[0].Frequency)
	assert.Equal(t, 2, items[0].RequiredUnits)
	assert.EqualValues(t, 8, items[0].Stock)

	rec = s.do(http.MethodGet, "/prescriptions", domain.RoleReceptionist, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]domain.PrescriptionSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "Maria Ionescu", list[0].PatientName)
	assert.Equal(t, "First Doctor", list[0].DoctorName)

	rec = s.do(http.MethodGet, fmt.Sprintf("/patients/%d/prescriptions", patientID), domain.RoleDoctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]domain.PatientPrescriptionRow](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, prescriptionID, history[0].PrescriptionID)
	assert.Equal(t, "Paracetamol", history[0].MedicationName)
}

func TestPrescriptionErrorMapping(t *testing.T) {
	s := newTestServer(t)
	patientID := s.patient("2800101123456")
	medID := s.medication("Morphine", 1)

	rec := s.do(http.MethodPost, "/prescriptions", domain.RoleDoctor, map[string]any{
		"patient_id":  patientID,
		"medications": []map[string]any{{"medication_id": medID, "dose_mg": 1000, "frequency_days": 30}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	short := decode[map[string]any](t, rec)
	assert.EqualValues(t, medID, short["medication_id"])
	assert.EqualValues(t, 1, short["available"])
	assert.EqualValues(t, 6, short["required"])
	assert.EqualValues(t, 1, s.stock(medID))

	rec = s.do(http.MethodPost, "/prescriptions", domain.RoleDoctor, map[string]any{
		"patient_id":  patientID,
		"medications": []map[string]any{{"medication_id": medID, "dose_mg": 50, "frequency_days": 31}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	verr := decode[map[string]any](t, rec)
	assert.Equal(t, "validation failed", verr["error"])
	assert.Len(t, verr["fields"], 2)

	rec = s.do(http.MethodPost, "/prescriptions", domain.RoleDoctor, map[string]any{
		"patient_id":  9999,
		"medications": []map[string]any{{"medication_id": medID, "dose_mg": 100, "frequency_days": 1}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPut, "/prescriptions/9999", domain.RoleDoctor, map[string]any{
		"medications": []map[string]any{{"medication_id": medID, "dose_mg": 100, "frequency_days": 1}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/prescriptions", domain.RoleDoctor, map[string]any{"patient_id": patientID, "unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMedicationCrudAndDeletion(t *testing.T) {
	s := newTestServer(t)
	patientID := s.patient("2800101123456")

	rec := s.do(http.MethodPost, "/medications", domain.RolePharmacist, map[string]any{"name": "Ibuprofen", "rfid": "RF-1", "stock": 20})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	medID := decode[map[string]int64](t, rec)["id"]

	rec = s.do(http.MethodPost, "/medications", domain.RoleAdmin, map[string]any{"name": "Other", "rfid": "RF-1", "stock": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/medications", domain.RoleAdmin, map[string]any{"name": "Negative", "stock": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, fmt.Sprintf("/medications/%d", medID), domain.RolePharmacist, map[string]any{"name": "Ibuprofen 400", "rfid": "RF-1", "stock": 30})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, fmt.Sprintf("/medications/%d", medID), domain.RoleDoctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	med := decode[domain.Medication](t, rec)
	assert.Equal(t, "Ibuprofen 400", med.Name)
	assert.EqualValues(t, 30, med.Stock)

	rec = s.do(http.MethodPost, "/prescriptions", domain.RoleAdmin, map[string]any{
		"patient_id":  patientID,
		"medications": []map[string]any{{"medication_id": medID, "dose_mg": 100, "frequency_days": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodDelete, fmt.Sprintf("/medications/%d", medID), domain.RolePharmacist, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "referenced")

	unused := s.medication("Unused", 3)
	rec = s.do(http.MethodDelete, fmt.Sprintf("/medications/%d", unused), domain.RolePharmacist, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, fmt.Sprintf("/medications/%d", unused), domain.RolePharmacist, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatientCrudAndCascadeDelete(t *testing.T) {
	s := newTestServer(t)
	medID := s.medication("Paracetamol", 10)

	rec := s.do(http.MethodPost, "/patients", domain.RoleReceptionist, map[string]any{
		"first_name": "Elena", "last_name": "Popa", "national_id": "2900202123456", "ward": "B", "bed": "12",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	patientID := decode[map[string]int64](t, rec)["id"]

	rec = s.do(http.MethodPost, "/patients", domain.RoleDoctor, map[string]any{
		"first_name": "Dup", "last_name": "Dup", "national_id": "2900202123456",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/patients", domain.RoleDoctor, map[string]any{"first_name": "NoId"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decode[map[string]any](t, rec)["fields"], 2)

	rec = s.do(http.MethodGet, fmt.Sprintf("/patients/%d", patientID), domain.RolePharmacist, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[domain.Patient](t, rec)
	require.NotNil(t, p.Ward)
	assert.Equal(t, "B", *p.Ward)
	assert.Nil(t, p.Phone)

	rec = s.do(http.MethodPost, "/prescriptions", domain.RoleDoctor, map[string]any{
		"patient_id":  patientID,
		"medications": []map[string]any{{"medication_id": medID, "dose_mg": 100, "frequency_days": 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	prescriptionID := decode[map[string]int64](t, rec)["prescription_id"]
	_, err := s.db.Exec(`INSERT INTO robot_commands (prescription_id, medication_id) VALUES (?, ?)`, prescriptionID, medID)
	require.NoError(t, err)

	rec = s.do(http.MethodDelete, fmt.Sprintf("/patients/%d", patientID), domain.RoleAdmin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	for _, table := range []string{"robot_commands", "prescription_medications", "prescriptions", "patients"} {
		var n int
		require.NoError(t, s.db.Get(&n, `SELECT COUNT(*) FROM `+table))
		assert.Zero(t, n, table)
	}
	assert.EqualValues(t, 9, s.stock(medID))

	rec = s.do(http.MethodDelete, fmt.Sprintf("/patients/%d", patientID), domain.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserAdministration(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/users", domain.RoleAdmin, map[string]any{
		"first_name": "Ioana", "last_name": "Marin", "username": "imarin", "email": "IMarin@hospital.test", "password": "pa55word",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[map[string]int64](t, rec)["id"]

	rec = s.do(http.MethodGet, fmt.Sprintf("/users/%d", id), domain.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	u := decode[domain.User](t, rec)
	assert.Equal(t, domain.RoleReceptionist, u.Role)
	assert.Equal(t, domain.UserStatusActive, u.Status)
	assert.Equal(t, "imarin@hospital.test", u.Email)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.do(http.MethodPost, "/users", domain.RoleAdmin, map[string]any{
		"first_name": "X", "last_name": "Y", "username": "imarin", "email": "other@hospital.test", "password": "p",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/users", domain.RoleAdmin, map[string]any{
		"first_name": "X", "last_name": "Y", "username": "x", "email": "x@hospital.test", "password": "p", "role": "janitor",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, fmt.Sprintf("/users/%d", id), domain.RoleAdmin, map[string]any{
		"first_name": "Ioana", "last_name": "Marin", "username": "imarin", "email": "imarin@hospital.test", "role": "pharmacist",
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "imarin", "password": "pa55word"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RolePharmacist, decode[authResponse](t, rec).User.Role)

	rec = s.do(http.MethodDelete, fmt.Sprintf("/users/%d", id), domain.RoleAdmin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodDelete, fmt.Sprintf("/users/%d", id), domain.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRobotErrorsAndTransports(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/robot/error", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/robot/error", "", map[string]any{"description": "gripper jammed", "command_id": 17})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/alarms", domain.RoleReceptionist, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	alarms := decode[[]domain.Alarm](t, rec)
	require.Len(t, alarms, 2)

	byDescription := map[string]domain.Alarm{}
	for _, a := range alarms {
		assert.Equal(t, domain.AlarmTypeRobotError, a.AlarmType)
		assert.Equal(t, domain.AlarmStatusNew, a.Status)
		byDescription[a.Description] = a
	}
	require.Contains(t, byDescription, "gripper jammed")
	require.NotNil(t, byDescription["gripper jammed"].CommandID)
	assert.EqualValues(t, 17, *byDescription["gripper jammed"].CommandID)
	assert.Contains(t, byDescription, defaultRobotErrorDescription)

	_, err := s.db.Exec(`INSERT INTO transports (medication_id, patient_id, status) VALUES (1, 1, 'delivered')`)
	require.NoError(t, err)
	rec = s.do(http.MethodGet, "/transports", domain.RoleDoctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Transport](t, rec), 1)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/transports/42", domain.RoleDoctor, nil).Code)
}

func TestHospitalMap(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/hospital-map", domain.RoleDoctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decode[hospitalMapResponse](t, rec)
	assert.Equal(t, strings.Repeat("0", 128), empty.Upper)
	assert.Zero(t, empty.Occupied)

	grid := make([][]bool, 16)
	for i := range grid {
		grid[i] = make([]bool, 16)
	}
	grid[0][1] = true
	grid[15][15] = true
	rec = s.do(http.MethodPut, "/hospital-map", domain.RoleAdmin, map[string]any{"grid": grid})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/hospital-map", domain.RoleReceptionist, nil)
	stored := decode[hospitalMapResponse](t, rec)
	assert.Equal(t, 2, stored.Occupied)
	assert.Equal(t, "01"+strings.Repeat("0", 126), stored.Upper)
	assert.Equal(t, strings.Repeat("0", 127)+"1", stored.Lower)

	rec = s.do(http.MethodPut, "/hospital-map", domain.RoleAdmin, map[string]any{"upper": "111", "lower": ""})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[hospitalMapResponse](t, rec).Occupied)

	rec = s.do(http.MethodPut, "/hospital-map", domain.RoleAdmin, map[string]any{"grid": [][]bool{{true}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)

	s.handler.respondDomainError(rec, req, errors.New("disk on fire"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
