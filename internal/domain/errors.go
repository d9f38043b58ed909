package domain

import "errors"

var (
	// ErrInvalidConfig marks a configuration value outside its allowed range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingIndicator is returned when a sizing or risk rule references an
	// indicator the input bars do not carry.
	ErrMissingIndicator = errors.New("missing required indicator")

	// ErrNoBars is returned when a run has no usable input.
	ErrNoBars = errors.New("no bars")

	// ErrInsufficientCash is returned by a cash debit larger than the balance.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrNotFound is returned by stores and caches for unknown keys.
	ErrNotFound = errors.New("not found")

	// ErrUnknownStrategy is returned when a strategy name is not registered.
	ErrUnknownStrategy = errors.New("unknown strategy")
)
