package domain

import "errors"

// Domain errors returned by the payment engine. Handlers map these to
// HTTP status codes and stable error codes.
var (
	// Validation
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidCurrency     = errors.New("unsupported currency")
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	ErrInvalidPaymentRef   = errors.New("invalid payment reference")

	// State machine
	ErrAlreadyPaid         = errors.New("service already paid by this user")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentFinal        = errors.New("payment is in a final state")
	ErrConcurrencyConflict = errors.New("payment was modified concurrently")

	// Refunds
	ErrNotEligible         = errors.New("payment is not eligible for refund")
	ErrInvalidRefundAmount = errors.New("refund amount exceeds refundable balance")
	ErrRefundUnsupported   = errors.New("provider does not support programmatic refunds")
	ErrRefundWindowExpired = errors.New("self-service refund window has expired")
	ErrRefundNotFound      = errors.New("refund not found")

	// Trust boundary
	ErrForbidden        = errors.New("caller is not allowed to access this payment")
	ErrRateLimited      = errors.New("too many payment attempts")
	ErrSignatureInvalid = errors.New("webhook signature verification failed")

	// Provider layer
	ErrProviderTimeout = errors.New("provider call timed out")
	ErrCreationFailed  = errors.New("payment creation failed at provider")
)
