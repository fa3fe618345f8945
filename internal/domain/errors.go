package domain

import "errors"

var ErrValidation = errors.New("validation failed")
var ErrRecordNotFound = errors.New("Record not found")
var ErrAccountNotFound = errors.New("Account not found")
var ErrAccountExists = errors.New("Account already exists")
var ErrInsufficientFunds = errors.New("Insufficient funds")
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
var ErrInvalidTransition = errors.New("invalid status transition")
var ErrStoreUnavailable = errors.New("store unavailable")
var ErrOverloaded = errors.New("engine overloaded")
var ErrEngineStopped = errors.New("engine is not running")
