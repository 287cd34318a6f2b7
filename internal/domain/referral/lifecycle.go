package referral

import (
	"errors"
	"fmt"

	"github.com/ehr/clinicbridge/internal/platform/apperr"
)

// Event drives a referral status transition.
type Event string

const (
	EventCalendarSynced Event = "calendar_synced"
	EventTakenOver      Event = "taken_over"
	EventFindingSent    Event = "finding_sent"
	EventReleased       Event = "released"
	EventCancelled      Event = "cancelled"
	EventCancelFailed   Event = "cancel_failed"
)

var ErrInvalidTransition = errors.New("invalid referral transition")

// Next returns the status reached from from on ev. changed is false when the
// event is accepted but leaves the status as is. Statuses outside the known
// set are treated as undefined.
func Next(from Status, ev Event) (to Status, changed bool, err error) {
	if !from.Known() {
		from = ""
	}

	switch ev {
	case EventCalendarSynced:
		// Sync retries may arrive long after clinical events; never regress.
		if from == StatusSent || from == "" {
			return StatusReserved, true, nil
		}
		return from, false, nil

	case EventTakenOver:
		switch from {
		case StatusSent, StatusReserved, "":
			return StatusInProgress, true, nil
		}

	case EventFindingSent:
		return StatusRealized, from != StatusRealized, nil

	case EventReleased:
		switch from {
		case StatusCancelled, StatusCancelFailed, StatusRealized, StatusExpired:
		default:
			return StatusSent, from != StatusSent, nil
		}

	case EventCancelled, EventCancelFailed:
		switch from {
		case StatusCancelled, StatusExpired:
		default:
			to := StatusCancelled
			if ev == EventCancelFailed {
				to = StatusCancelFailed
			}
			return to, from != to, nil
		}

	default:
		return from, false, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}

	return from, false, &apperr.Error{
		Kind:    apperr.KindConflict,
		Rule:    "referral_transition",
		Message: fmt.Sprintf("referral in status %s does not accept %s", displayStatus(from), ev),
		Err:     ErrInvalidTransition,
	}
}

func displayStatus(s Status) string {
	if s == "" {
		return "undefined"
	}
	return string(s)
}
