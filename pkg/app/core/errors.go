// Package core holds the error taxonomy shared by the exchange components.
// Every rejected operation returns (a wrap of) exactly one of these; match
// with errors.Is.
package core

import "errors"

var (
	// ErrInvalidAsset: an order leg names the zero address.
	ErrInvalidAsset = errors.New("invalid asset")
	// ErrUnauthorized: caller is not the order's seller, or not the owner for
	// admin operations.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAlreadyFulfilled: the order has already settled.
	ErrAlreadyFulfilled = errors.New("order already fulfilled")
	// ErrExpired: fulfill attempted after the order deadline.
	ErrExpired = errors.New("order expired")
	// ErrUnknownPriceFeed: no price feed registered for the asset.
	ErrUnknownPriceFeed = errors.New("unknown price feed")
	// ErrInsufficientFee: attached payment is below the platform fee.
	ErrInsufficientFee = errors.New("insufficient payment for platform fee")
	// ErrTransferUnauthorized: a unique-token leg could not be moved because
	// the exchange lacks ownership or approval.
	ErrTransferUnauthorized = errors.New("unique token transfer unauthorized")
	// ErrTransferFailed: a fungible leg or the payment could not be moved.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrInvalidFeedAddress: feed handle is the zero address.
	ErrInvalidFeedAddress = errors.New("invalid feed address")
	// ErrNothingToWithdraw: treasury balance is zero.
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	// ErrInvalidPage: page numbers start at 1.
	ErrInvalidPage = errors.New("invalid page")
)
