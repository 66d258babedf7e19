package settlement

import (
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/money"
)

// Figures are the computed amounts of one tutor-month
type Figures struct {
	Sessions    int         `json:"sessions"`
	Total       money.Money `json:"total"`
	PlatformFee money.Money `json:"platform_fee"`
	PGFee       money.Money `json:"pg_fee"`
	Net         money.Money `json:"net"`
}

// Outcome is how one tutor's task ended
type Outcome string

const (
	OutcomeCompleted        Outcome = "COMPLETED"
	OutcomeAlreadyCompleted Outcome = "ALREADY_COMPLETED"
	OutcomeFailed           Outcome = "FAILED"
)

// TaskResult is the result of settling one tutor
type TaskResult struct {
	TutorID    int64              `json:"tutor_id"`
	Outcome    Outcome            `json:"outcome"`
	Settlement *domain.Settlement `json:"settlement,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// RunReport summarizes one batch run
type RunReport struct {
	Month            string       `json:"month"`
	Results          []TaskResult `json:"results"`
	Completed        int          `json:"completed"`
	AlreadyCompleted int          `json:"already_completed"`
	Failed           int          `json:"failed"`
}

func (r *RunReport) add(res TaskResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeCompleted:
		r.Completed++
	case OutcomeAlreadyCompleted:
		r.AlreadyCompleted++
	case OutcomeFailed:
		r.Failed++
	}
}
