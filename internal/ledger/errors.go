package ledger

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientFunds    = errors.New("insufficient USDT balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrAccountLocked        = errors.New("account is locked")
	ErrBalanceFrozen        = errors.New("balance is frozen")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidPair          = errors.New("invalid trading pair")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConflict             = errors.New("concurrent modification")
	ErrUserIDRequired       = errors.New("user_id is required")
)

// Stable error codes shared by the HTTP surface and the remote repository.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	CodeInsufficientHoldings = "INSUFFICIENT_HOLDINGS"
	CodeAccountLocked        = "ACCOUNT_LOCKED"
	CodeBalanceFrozen        = "BALANCE_FROZEN"
	CodeInvalidState         = "INVALID_STATE"
	CodeInvalidAmount        = "INVALID_AMOUNT"
	CodeInvalidPair          = "INVALID_PAIR"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeConflict             = "CONFLICT"
	CodeUserIDRequired       = "USER_ID_REQUIRED"
	CodeInternal             = "INTERNAL_ERROR"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrInsufficientHoldings, CodeInsufficientHoldings},
	{ErrAccountLocked, CodeAccountLocked},
	{ErrBalanceFrozen, CodeBalanceFrozen},
	{ErrInvalidState, CodeInvalidState},
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrInvalidPair, CodeInvalidPair},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrConflict, CodeConflict},
	{ErrUserIDRequired, CodeUserIDRequired},
}

// ErrorCode returns the stable code for err, CodeInternal when it wraps none
// of the sentinels.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorForCode is the inverse of ErrorCode. Unknown codes return nil.
func ErrorForCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
