package domain

type Prescription struct {
	ID           int64  `db:"id" json:"id"`
	PatientID    int64  `db:"patient_id" json:"patient_id"`
	PrescriberID int64  `db:"prescriber_id" json:"prescriber_id"`
	PrescribedAt string `db:"prescribed_at" json:"prescribed_at"`
}

// LineItem is one medication on a prescription. Dose and frequency keep their
// unit suffix as stored ("500mg", "10 days").
type LineItem struct {
	PrescriptionID int64  `db:"prescription_id" json:"prescription_id"`
	MedicationID   int64  `db:"medication_id" json:"medication_id"`
	Dose           string `db:"dose" json:"dose"`
	Frequency      string `db:"frequency" json:"frequency"`
}

type PrescriptionSummary struct {
	Prescription
	PatientName string `db:"patient_name" json:"patient_name"`
	DoctorName  string `db:"doctor_name" json:"doctor_name"`
}

type LineItemDetail struct {
	LineItem
	MedicationName string `db:"medication_name" json:"medication_name"`
	Stock          int64  `db:"stock" json:"stock"`
	RequiredUnits  int    `db:"-" json:"required_units"`
}

type PatientPrescriptionRow struct {
	PrescriptionID int64  `db:"prescription_id" json:"prescription_id"`
	IssuedAt       string `db:"issued_at" json:"issued_at"`
	Doctor         string `db:"doctor" json:"doctor"`
	MedicationID   int64  `db:"medication_id" json:"medication_id"`
	MedicationName string `db:"medication_name" json:"medication_name"`
	Dose           string `db:"dose" json:"dose"`
	Frequency      string `db:"frequency" json:"frequency"`
}
