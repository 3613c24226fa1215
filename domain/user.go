package domain

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RolePharmacist   Role = "pharmacist"
	RoleReceptionist Role = "receptionist"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePharmacist, RoleReceptionist:
		return true
	}
	return false
}

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

type User struct {
	ID        int64  `json:"id" db:"id"`
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	Role      Role   `json:"role" db:"role"`
	Username  string `json:"username" db:"username"`
	Email     string `json:"email" db:"email"`
	Password  string `json:"password,omitempty" db:"password"`
	Status    string `json:"status" db:"status"`
	CreatedAt string `json:"created_at,omitempty" db:"created_at"`
}
