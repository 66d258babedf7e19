// Package noshow holds one pure handler per no-show policy a tutor can configure.
package noshow

import (
	"fmt"

	"github.com/zbnerd/TutorFlow/internal/domain"
)

// Input is what a policy may look at when a session is marked NO_SHOW
type Input struct {
	// PriorNoShows counts the pair's other NO_SHOW sessions in the same calendar month
	PriorNoShows int
}

// Outcome is the effect of a no-show on the session and its booking
type Outcome struct {
	Consumed          bool
	Billable          bool
	PendingResolution bool
}

// Strategy is the interface every no-show policy implements
type Strategy interface {
	// Apply computes the outcome of one no-show
	Apply(in Input) Outcome

	// Policy returns the policy identifier for this strategy
	Policy() domain.NoShowPolicy

	// NeedsHistory reports whether Apply reads Input.PriorNoShows
	NeedsHistory() bool
}

// Factory creates strategies from the tutor's configured policy
type Factory struct{}

// NewFactory creates a new factory instance
func NewFactory() *Factory {
	return &Factory{}
}

// Create returns the strategy for policy
func (f *Factory) Create(policy domain.NoShowPolicy) (Strategy, error) {
	switch policy {
	case domain.NoShowFullDeduction:
		return FullDeduction{}, nil
	case domain.NoShowOneFree:
		return OneFree{}, nil
	case domain.NoShowNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown no-show policy: %s", policy)
	}
}
