package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidParameters  = errors.New("invalid position parameters")
	ErrNotEligible        = errors.New("position not eligible at this height")
	ErrBelowMinimumOutput = errors.New("quoted output below minimum")
	ErrIllegalTransition  = errors.New("illegal lifecycle transition")
	ErrOverflow           = errors.New("unsigned arithmetic overflow")
	ErrConflict           = errors.New("concurrent update conflict")
	ErrSubmissionFailed   = errors.New("swap submission failed")
	ErrCorruptRecord      = errors.New("stored position violates invariants")
	ErrLockHeld           = errors.New("lock already held")
)
