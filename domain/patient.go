package domain

type Patient struct {
	ID         int64   `db:"id" json:"id"`
	FirstName  string  `db:"first_name" json:"first_name"`
	LastName   string  `db:"last_name" json:"last_name"`
	NationalID string  `db:"national_id" json:"national_id"`
	Address    *string `db:"address" json:"address,omitempty"`
	Phone      *string `db:"phone" json:"phone,omitempty"`
	Ward       *string `db:"ward" json:"ward,omitempty"`
	Bed        *string `db:"bed" json:"bed,omitempty"`
	CreatedAt  string  `db:"created_at" json:"created_at"`
}
