package noshow

import "github.com/zbnerd/TutorFlow/internal/domain"

// None leaves the no-show to an administrator. The booking stays open until
// the session is resolved.
type None struct{}

func (None) Policy() domain.NoShowPolicy {
	return domain.NoShowNone
}

func (None) NeedsHistory() bool {
	return false
}

func (None) Apply(Input) Outcome {
	return Outcome{PendingResolution: true}
}

// Resolve is the administrator's decision on a pending no-show
func Resolve(billable bool) Outcome {
	if billable {
		return Outcome{Consumed: true, Billable: true}
	}
	return Outcome{}
}
