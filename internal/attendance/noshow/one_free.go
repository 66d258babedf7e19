package noshow

import "github.com/zbnerd/TutorFlow/internal/domain"

// OneFree forgives the first no-show of a (tutor, student) pair in a calendar month.
// Later no-shows in the same month are fully deducted.
type OneFree struct{}

func (OneFree) Policy() domain.NoShowPolicy {
	return domain.NoShowOneFree
}

func (OneFree) NeedsHistory() bool {
	return true
}

func (OneFree) Apply(in Input) Outcome {
	if in.PriorNoShows == 0 {
		return Outcome{}
	}
	return FullDeduction{}.Apply(in)
}
