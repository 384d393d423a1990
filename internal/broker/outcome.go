package broker

import "nybot/internal/events"

// DropReason explains why a single delivery did not happen.
type DropReason string

const (
	DropFull   DropReason = "full"
	DropClosed DropReason = "closed"
)

// DeliveryOutcome is the result of one per-subscriber send attempt.
// A zero Reason means the event was enqueued.
type DeliveryOutcome struct {
	Reason DropReason
}

func (o DeliveryOutcome) Delivered() bool { return o.Reason == "" }

var delivered = DeliveryOutcome{}

func dropped(r DropReason) DeliveryOutcome { return DeliveryOutcome{Reason: r} }

// deliver never blocks. The data channel is never closed, so a concurrent
// Unsubscribe cannot make the send panic.
func deliver(s *Subscription, e events.Event) DeliveryOutcome {
	if s.closedNow() {
		return dropped(DropClosed)
	}
	select {
	case s.ch <- e:
		return delivered
	default:
		return dropped(DropFull)
	}
}
