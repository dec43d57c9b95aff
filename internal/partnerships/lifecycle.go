package partnerships

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/models"
)

// Transition names a lifecycle event.
type Transition string

const (
	TransitionSuspend    Transition = "suspend"
	TransitionTerminate  Transition = "terminate"
	TransitionReactivate Transition = "reactivate"
)

func (t Transition) String() string { return string(t) }

// terminated has no outgoing edge, which makes it terminal.
var lifecycle = fsm.Events{
	{
		Name: TransitionSuspend.String(),
		Src:  []string{string(models.PartnershipActive)},
		Dst:  string(models.PartnershipSuspended),
	},
	{
		Name: TransitionTerminate.String(),
		Src:  []string{string(models.PartnershipActive), string(models.PartnershipSuspended)},
		Dst:  string(models.PartnershipTerminated),
	},
	{
		Name: TransitionReactivate.String(),
		Src:  []string{string(models.PartnershipSuspended)},
		Dst:  string(models.PartnershipActive),
	},
}

// Next returns the status reached by applying t to current.
func Next(ctx context.Context, current models.PartnershipStatus, t Transition) (models.PartnershipStatus, error) {
	machine := fsm.NewFSM(string(current), lifecycle, fsm.Callbacks{})
	if machine.Cannot(t.String()) {
		return current, apperr.Wrap(apperr.ErrInvalidTransition,
			fsm.InvalidEventError{Event: t.String(), State: string(current)})
	}
	if err := machine.Event(ctx, t.String()); err != nil {
		return current, apperr.Wrap(apperr.ErrInvalidTransition, err)
	}
	return models.PartnershipStatus(machine.Current()), nil
}

// Allowed lists the transitions available from current.
func Allowed(current models.PartnershipStatus) []Transition {
	machine := fsm.NewFSM(string(current), lifecycle, fsm.Callbacks{})
	var out []Transition
	for _, t := range []Transition{TransitionSuspend, TransitionTerminate, TransitionReactivate} {
		if machine.Can(t.String()) {
			out = append(out, t)
		}
	}
	return out
}
