package noshow

import "github.com/zbnerd/TutorFlow/internal/domain"

// FullDeduction treats a no-show as a delivered session
type FullDeduction struct{}

func (FullDeduction) Policy() domain.NoShowPolicy {
	return domain.NoShowFullDeduction
}

func (FullDeduction) NeedsHistory() bool {
	return false
}

func (FullDeduction) Apply(Input) Outcome {
	return Outcome{Consumed: true, Billable: true}
}
