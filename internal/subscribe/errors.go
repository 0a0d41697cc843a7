package subscribe

import "errors"

var (
	// ErrMalformedRecurrence rejects recurrence expressions that do not split
	// into exactly five fields.
	ErrMalformedRecurrence = errors.New("malformed recurrence expression")

	// ErrStorageCorrupt marks an unreadable ledger at startup. Fatal: the
	// process must not proceed with a silently reset store.
	ErrStorageCorrupt = errors.New("subscription ledger corrupt")

	// ErrEmptyStore is returned when removal addresses a group with no
	// upcoming subscriptions.
	ErrEmptyStore = errors.New("no upcoming subscriptions")

	// ErrIndexOutOfRange is returned when a removal position does not address
	// the upcoming view.
	ErrIndexOutOfRange = errors.New("position out of range")

	// ErrAlreadyStarted is returned by Scheduler.Start after the first call.
	ErrAlreadyStarted = errors.New("scheduler already started")
)
