package domain

import (
	"time"

	"github.com/zbnerd/TutorFlow/internal/money"
)

// Role is the local role a user acts under
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTutor   Role = "TUTOR"
	RoleAdmin   Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTutor, RoleAdmin:
		return true
	}
	return false
}

// NoShowPolicy is the tutor-configured rule applied when a student does not show up
type NoShowPolicy string

const (
	NoShowFullDeduction NoShowPolicy = "FULL_DEDUCTION"
	NoShowOneFree       NoShowPolicy = "ONE_FREE"
	NoShowNone          NoShowPolicy = "NONE"
)

// User is the local identity resolved from the external identity provider
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// TutorProfile holds the tutor settings the booking core depends on
type TutorProfile struct {
	UserID            int64        `json:"user_id"`
	SessionPrice      money.Money  `json:"session_price"`
	NoShowPolicy      NoShowPolicy `json:"no_show_policy"`
	CancellationHours int          `json:"cancellation_hours"`
	PayoutAccount     string       `json:"payout_account"`
	IsApproved        bool         `json:"is_approved"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Actor is the authenticated user performing an operation
type Actor struct {
	ID   int64
	Role Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// System is the actor of scheduled jobs
var System = Actor{Role: RoleAdmin}
