package app

import (
	"errors"

	abci "github.com/cometbft/cometbft/abci/types"
)

// ABCI result codes, one per error class. The specific class is part of the
// instruction contract: the submission layer decides retry policy from it.
const (
	codeOK         uint32 = 0
	codeDecode     uint32 = 1
	codeAuth       uint32 = 2
	codeConfig     uint32 = 3
	codeValidation uint32 = 4
	codeState      uint32 = 5
	codeFunds      uint32 = 6
	codeArithmetic uint32 = 7
)

// Authorization errors.
var ErrUnauthorized = errors.New("unauthorized")

// Configuration errors.
var (
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("not initialized")
	ErrOddsLocked         = errors.New("odds locked")
	ErrLengthMismatch     = errors.New("payouts/weights length mismatch")
	ErrBadBucketTable     = errors.New("invalid bucket table")
	ErrFeeTooHigh         = errors.New("platform fee too high")
	ErrMaxBallsTooHigh    = errors.New("max balls too high")
	ErrInvalidValue       = errors.New("invalid value")
)

// Validation errors.
var (
	ErrPaused           = errors.New("game is paused")
	ErrInvalidBallCount = errors.New("invalid number of balls")
	ErrBelowMinBuyIn    = errors.New("bet below minimum buy-in")
	ErrZeroPerBall      = errors.New("bet too small to split across balls")
	ErrDuplicateGameID  = errors.New("game id already used")
)

// State errors.
var (
	ErrGameNotFound      = errors.New("game not found")
	ErrAlreadySettled    = errors.New("game already ended")
	ErrRequestIDMismatch = errors.New("invalid request id")
	ErrRequestNotFound   = errors.New("request id not found")
	ErrSeedMismatch      = errors.New("seed material mismatch")
)

// Funds errors.
var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientHouseFunds = errors.New("insufficient house funds")
)

// Arithmetic errors.
var ErrOverflow = errors.New("arithmetic overflow")

func errCode(err error) uint32 {
	switch {
	case err == nil:
		return codeOK
	case errors.Is(err, ErrUnauthorized):
		return codeAuth
	case errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrOddsLocked),
		errors.Is(err, ErrLengthMismatch),
		errors.Is(err, ErrBadBucketTable),
		errors.Is(err, ErrFeeTooHigh),
		errors.Is(err, ErrMaxBallsTooHigh),
		errors.Is(err, ErrInvalidValue):
		return codeConfig
	case errors.Is(err, ErrPaused),
		errors.Is(err, ErrInvalidBallCount),
		errors.Is(err, ErrBelowMinBuyIn),
		errors.Is(err, ErrZeroPerBall),
		errors.Is(err, ErrDuplicateGameID):
		return codeValidation
	case errors.Is(err, ErrGameNotFound),
		errors.Is(err, ErrAlreadySettled),
		errors.Is(err, ErrRequestIDMismatch),
		errors.Is(err, ErrRequestNotFound),
		errors.Is(err, ErrSeedMismatch):
		return codeState
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientHouseFunds):
		return codeFunds
	case errors.Is(err, ErrOverflow):
		return codeArithmetic
	default:
		return codeDecode
	}
}

func failTx(err error) *abci.ExecTxResult {
	return &abci.ExecTxResult{Code: errCode(err), Log: err.Error()}
}
