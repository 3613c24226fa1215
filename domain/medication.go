package domain

type Medication struct {
	ID          int64   `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	Description *string `db:"description" json:"description,omitempty"`
	RFID        *string `db:"rfid" json:"rfid,omitempty"`
	Stock       int64   `db:"stock" json:"stock"`
}
