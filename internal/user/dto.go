package user

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

const (
	maxNameLen     = 50
	maxCancelHours = 24 * 14
)

// CreateUserRequest represents the request body for creating a user
type CreateUserRequest struct {
	Name  string      `json:"name"`
	Email *string     `json:"email,omitempty"`
	Role  domain.Role `json:"role"`
}

func (r *CreateUserRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" || utf8.RuneCountInString(r.Name) > maxNameLen {
		return apperr.ErrValidation.WithMessage("name must be 1-%d characters", maxNameLen)
	}
	if r.Email != nil {
		if _, err := mail.ParseAddress(*r.Email); err != nil {
			return apperr.ErrValidation.WithMessage("email is invalid")
		}
	}
	if r.Role == "" {
		r.Role = domain.RoleStudent
	}
	if !r.Role.Valid() {
		return apperr.ErrValidation.WithMessage("role must be STUDENT, TUTOR or ADMIN")
	}
	return nil
}

// TutorSettingsRequest carries the settings a tutor controls
type TutorSettingsRequest struct {
	SessionPrice      int64               `json:"session_price"`
	NoShowPolicy      domain.NoShowPolicy `json:"no_show_policy"`
	CancellationHours int                 `json:"cancellation_hours"`
	PayoutAccount     string              `json:"payout_account"`
}

func (r *TutorSettingsRequest) Validate() error {
	if r.SessionPrice <= 0 {
		return apperr.ErrValidation.WithMessage("session_price must be positive")
	}
	if r.CancellationHours < 0 || r.CancellationHours > maxCancelHours {
		return apperr.ErrValidation.WithMessage("cancellation_hours must be between 0 and %d", maxCancelHours)
	}
	r.PayoutAccount = strings.TrimSpace(r.PayoutAccount)
	return nil
}

// CreateSlotRequest adds a weekly window; day_of_week is 0 (Monday) to 6 (Sunday)
type CreateSlotRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// UpdateSlotRequest changes only the fields that are set
type UpdateSlotRequest struct {
	DayOfWeek *int    `json:"day_of_week,omitempty"`
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

func (r *UpdateSlotRequest) apply(a *domain.AvailableSlot) {
	if r.DayOfWeek != nil {
		a.DayOfWeek = *r.DayOfWeek
	}
	if r.StartTime != nil {
		a.StartTime = strings.TrimSpace(*r.StartTime)
	}
	if r.EndTime != nil {
		a.EndTime = strings.TrimSpace(*r.EndTime)
	}
	if r.IsActive != nil {
		a.IsActive = *r.IsActive
	}
}
