package domain

import "errors"

var (
	// ErrValidation marks caller input errors surfaced synchronously.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups for entities that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks state transitions rejected by the current state.
	ErrConflict = errors.New("conflict")
	// ErrOptedOut marks sends to recipients on the opt-out list.
	ErrOptedOut = errors.New("recipient opted out")
	// ErrAlreadyConfirmed marks sends to contacts already confirmed for the campaign.
	ErrAlreadyConfirmed = errors.New("recipient already confirmed")
	// ErrNoContactableChannel marks contacts with no device token, phone number, or portal access.
	ErrNoContactableChannel = errors.New("no contactable channel")
	// ErrInsufficientCredits marks consumption attempts against an exhausted credit balance.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrInvariant marks ledger or state-machine invariant violations. These indicate
	// a bug and must fail loudly, never be silently tolerated.
	ErrInvariant = errors.New("invariant violation")
)
