package domain

import "fmt"

// Event names a lifecycle operation that may move an order between states.
type Event uint8

const (
	EventUploadProof Event = iota + 1
	EventApprove
	EventReject
	EventCustomerCancel
	EventAdminCancel
	EventExpire
	EventShip
	EventConfirm
)

var eventNames = map[Event]string{
	EventUploadProof:    "UPLOAD_PROOF",
	EventApprove:        "APPROVE",
	EventReject:         "REJECT",
	EventCustomerCancel: "CUSTOMER_CANCEL",
	EventAdminCancel:    "ADMIN_CANCEL",
	EventExpire:         "EXPIRE",
	EventShip:           "SHIP",
	EventConfirm:        "CONFIRM",
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("Event(%d)", uint8(e))
}

// LedgerEffect is the stock operation that accompanies a transition.
type LedgerEffect uint8

const (
	LedgerNone LedgerEffect = iota
	LedgerFinalize
	LedgerRelease
)

type transition struct {
	from   []Status
	to     Status
	ledger LedgerEffect
}

var transitions = map[Event]transition{
	EventUploadProof:    {from: []Status{StatusWaitingForPayment}, to: StatusWaitingConfirmation},
	EventApprove:        {from: []Status{StatusWaitingConfirmation}, to: StatusProcessed, ledger: LedgerFinalize},
	EventReject:         {from: []Status{StatusWaitingConfirmation}, to: StatusCanceled, ledger: LedgerRelease},
	EventCustomerCancel: {from: []Status{StatusWaitingForPayment}, to: StatusCanceled, ledger: LedgerRelease},
	EventAdminCancel:    {from: []Status{StatusWaitingForPayment, StatusProcessed}, to: StatusCanceled, ledger: LedgerRelease},
	EventExpire:         {from: []Status{StatusWaitingForPayment}, to: StatusCanceled, ledger: LedgerRelease},
	EventShip:           {from: []Status{StatusProcessed}, to: StatusShipped},
	EventConfirm:        {from: []Status{StatusShipped}, to: StatusConfirmed},
}

// Next returns the target state and ledger effect of applying ev in state
// from. It fails with ErrInvalidTransition when the table has no such edge.
func Next(from Status, ev Event) (Status, LedgerEffect, error) {
	t, ok := transitions[ev]
	if !ok {
		return from, LedgerNone, fmt.Errorf("%w: unknown event %s", ErrInvalidTransition, ev)
	}
	for _, s := range t.from {
		if s == from {
			return t.to, t.ledger, nil
		}
	}
	return from, LedgerNone, fmt.Errorf("%w: %s not allowed from %s", ErrInvalidTransition, ev, from)
}

// Events lists every known event in declaration order.
func Events() []Event {
	return []Event{
		EventUploadProof, EventApprove, EventReject, EventCustomerCancel,
		EventAdminCancel, EventExpire, EventShip, EventConfirm,
	}
}
