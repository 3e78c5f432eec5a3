package selection

import "errors"

var (
	ErrTierOutOfRange    = errors.New("selection: tier out of range")
	ErrMultipleValues    = errors.New("selection: tier accepts a single value")
	ErrUnknownOption     = errors.New("selection: value is not an available option")
	ErrOptionsNotLoaded  = errors.New("selection: tier options are not loaded")
	ErrConfirmIncomplete = errors.New("selection: no tier selected")
)
