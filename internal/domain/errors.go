package domain

import "errors"

var (
	// ErrConfig invalid deal configuration (pair, exchange, amounts).
	ErrConfig = errors.New("invalid deal config")
	// ErrInvalidOrderSize a ladder quantity rounds to zero or below the exchange minimum.
	ErrInvalidOrderSize = errors.New("invalid order size")
	// ErrOpenDealExists another open deal already holds the pair.
	ErrOpenDealExists = errors.New("open deal already exists for pair")
	// ErrDealClosed closed deals are immutable.
	ErrDealClosed = errors.New("deal is closed")
	// ErrDealNotFound no deal with the given id.
	ErrDealNotFound = errors.New("deal not found")
	// ErrBotNotFound no bot with the given id.
	ErrBotNotFound = errors.New("bot not found")
	// ErrBotInactive the bot was stopped and starts no new deals.
	ErrBotInactive = errors.New("bot is inactive")
	// ErrDealLimitReached the bot already closed its last allowed deal.
	ErrDealLimitReached = errors.New("bot reached its deal limit")
	// ErrInvariant the deal record violates a structural invariant.
	ErrInvariant = errors.New("deal invariant violated")
)

// Exchange failure kinds. Adapters wrap their native errors with one of these.
var (
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRateLimited       = errors.New("rate limited")
	ErrNetwork           = errors.New("network error")
	ErrOrderRejected     = errors.New("order rejected")
	ErrOrderNotFound     = errors.New("order not found")
)

// IsRejection reports whether the exchange definitively refused an order.
// Any other execution error leaves the order outcome unknown.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOrderRejected) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidSymbol)
}
