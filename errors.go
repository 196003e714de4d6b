package beacon

import (
	"errors"
	"fmt"
)

// PaymentError represents a payment-specific failure.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	// ErrCodeWalletNotConnected: no signing capability was available when a
	// payment was required. User-correctable.
	ErrCodeWalletNotConnected = "wallet_not_connected"
	// ErrCodeTransactionRejected: the user or wallet declined signing.
	ErrCodeTransactionRejected = "transaction_rejected"
	// ErrCodeSimulationFailed: the ledger's dry run reported an error before
	// broadcast. Details carry the raw ledger error.
	ErrCodeSimulationFailed = "simulation_failed"
	// ErrCodeSubmissionFailed: broadcast was rejected, or the transaction
	// failed on chain.
	ErrCodeSubmissionFailed = "submission_failed"
	// ErrCodeConfirmationTimeout: the ledger did not confirm in time. The
	// outcome is ambiguous; the payment may still land. Callers should not
	// retry blindly.
	ErrCodeConfirmationTimeout = "confirmation_timeout"
	// ErrCodePaymentVerificationFailed: the server returned 402 on the
	// proof-bearing retry. Terminal for that call.
	ErrCodePaymentVerificationFailed = "payment_verification_failed"
)

// NewPaymentError creates a new payment error.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// IsPaymentCode reports whether err is a PaymentError with the given code.
func IsPaymentCode(err error, code string) bool {
	var pe *PaymentError
	return errors.As(err, &pe) && pe.Code == code
}

// RequestError is a generic non-402 HTTP failure, surfaced with status and
// body for diagnostics. Never retried.
type RequestError struct {
	Status int
	Body   []byte
}

func (e *RequestError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s", e.Status, e.Body)
}
