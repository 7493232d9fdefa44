package order

import (
	"fmt"
	"time"

	"github.com/xenking/checkout/internal/domain/fault"
)

// statusGraph encodes the legal fulfilment transitions:
// pending -> processing -> shipped -> delivered, cancel from
// {pending, processing}, refund from any paid state.
var statusGraph = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusRefunded},
	StatusDelivered:  {StatusRefunded},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

// TransitionError indicates an illegal state machine step.
type TransitionError struct {
	From, To string
	Field    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Field, e.From, e.To)
}

// FaultCode implements fault.Coder.
func (e *TransitionError) FaultCode() fault.Code { return fault.CodeConflict }

// ApplyChange validates ch against the state machines, applies the fields,
// and stamps each transition timestamp exactly once: re-applying an
// already-set status never overwrites its timestamp.
func (o *Order) ApplyChange(ch StatusChange, now time.Time) error {
	if ch.Status != nil {
		if err := o.applyStatus(*ch.Status, now); err != nil {
			return err
		}
	}
	if ch.PaymentStatus != nil {
		if err := o.applyPaymentStatus(*ch.PaymentStatus, now); err != nil {
			return err
		}
	}
	if ch.ShippingStatus != nil {
		o.applyShippingStatus(*ch.ShippingStatus, now)
	}
	o.UpdatedAt = now
	return nil
}

func (o *Order) applyStatus(to Status, now time.Time) error {
	if o.Status == to {
		return nil // idempotent re-apply, timestamp untouched
	}

	legal := false
	for _, next := range statusGraph[o.Status] {
		if next == to {
			legal = true
			break
		}
	}
	if !legal {
		return &TransitionError{From: string(o.Status), To: string(to), Field: "status"}
	}

	// Gating by sibling machines.
	switch to {
	case StatusProcessing:
		if o.PaymentStatus != PaymentPaid && o.PaymentStatus != PaymentPartial {
			return fault.Conflict("order %s cannot move to processing before payment settles", o.ID)
		}
	case StatusRefunded:
		if o.PaymentStatus != PaymentPaid && o.PaymentStatus != PaymentPartial {
			return fault.Conflict("order %s cannot be refunded: nothing was paid", o.ID)
		}
	}

	o.Status = to
	switch to {
	case StatusShipped:
		stampOnce(&o.ShippedAt, now)
	case StatusDelivered:
		stampOnce(&o.DeliveredAt, now)
	case StatusCancelled:
		stampOnce(&o.CancelledAt, now)
	case StatusRefunded:
		stampOnce(&o.RefundedAt, now)
	}
	return nil
}

func (o *Order) applyPaymentStatus(to PaymentStatus, now time.Time) error {
	if o.PaymentStatus == to {
		return nil
	}
	if o.PaymentStatus == PaymentRefunded {
		return &TransitionError{From: string(o.PaymentStatus), To: string(to), Field: "payment_status"}
	}
	o.PaymentStatus = to
	if to == PaymentPaid {
		stampOnce(&o.PaidAt, now)
		o.PaidAmount = o.Total
	}
	if to == PaymentRefunded {
		stampOnce(&o.RefundedAt, now)
		o.Refunded = o.PaidAmount
	}
	return nil
}

func (o *Order) applyShippingStatus(to ShippingStatus, now time.Time) {
	if o.ShippingStatus == to {
		return
	}
	o.ShippingStatus = to
	switch to {
	case ShippingShipped:
		stampOnce(&o.ShippedAt, now)
	case ShippingDelivered:
		stampOnce(&o.DeliveredAt, now)
	}
}

// stampOnce sets a transition timestamp only if it was never set, keeping
// the timestamps monotonic and write-once.
func stampOnce(ts **time.Time, now time.Time) {
	if *ts == nil {
		t := now
		*ts = &t
	}
}
