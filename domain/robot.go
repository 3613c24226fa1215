package domain

type Transport struct {
	ID           int64  `db:"id" json:"id"`
	MedicationID int64  `db:"medication_id" json:"medication_id"`
	PatientID    int64  `db:"patient_id" json:"patient_id"`
	Status       string `db:"status" json:"status"`
	OccurredAt   string `db:"occurred_at" json:"occurred_at"`
}

const (
	AlarmTypeRobotError = "ROBOT_ERROR"
	AlarmStatusNew      = "new"
)

type Alarm struct {
	ID          int64  `db:"id" json:"id"`
	AlarmType   string `db:"alarm_type" json:"alarm_type"`
	Description string `db:"description" json:"description"`
	OccurredAt  string `db:"occurred_at" json:"occurred_at"`
	Status      string `db:"status" json:"status"`
	CommandID   *int64 `db:"command_id" json:"command_id,omitempty"`
}
