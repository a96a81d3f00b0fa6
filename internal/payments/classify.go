package payment

import (
	"strings"

	"github.com/sirbramstech/campus-backend/pkg/enums"
	"github.com/sirbramstech/campus-backend/pkg/mpesa"
)

// Daraja result codes seen on STK callbacks.
const (
	ResultCodeSuccess           = 0
	resultCodeInsufficientFunds = 1
	resultCodeCancelledByUser   = 1032
	resultCodeUnreachable       = 1037
)

// classifyRejection maps a synchronous gateway rejection to a user-facing
// failure category. The gateway's error codes are not a stable catalogue, so
// the message text is the primary signal.
func classifyRejection(rejection *mpesa.RejectionError) enums.PaymentFailureReason {
	if rejection == nil {
		return enums.PaymentFailureGeneric
	}

	haystack := strings.ToLower(rejection.Message + " " + rejection.Code)
	switch {
	case strings.Contains(haystack, "insufficient") || strings.Contains(haystack, "balance"):
		return enums.PaymentFailureInsufficientFunds
	case strings.Contains(haystack, "invalid phonenumber") ||
		strings.Contains(haystack, "invalid phone") ||
		strings.Contains(haystack, "invalid partya") ||
		strings.Contains(haystack, "subscriber"):
		return enums.PaymentFailureInvalidNumber
	case strings.Contains(haystack, "timeout") || strings.Contains(haystack, "timed out"):
		return enums.PaymentFailureTimeout
	case strings.Contains(haystack, "cancel"):
		return enums.PaymentFailureCancelled
	default:
		return enums.PaymentFailureGeneric
	}
}

// ClassifyResultCode maps an asynchronous callback result code to a failure
// category. Zero never reaches here; it is the success path.
func ClassifyResultCode(code int) enums.PaymentFailureReason {
	switch code {
	case resultCodeInsufficientFunds:
		return enums.PaymentFailureInsufficientFunds
	case resultCodeCancelledByUser:
		return enums.PaymentFailureCancelled
	case resultCodeUnreachable:
		return enums.PaymentFailureTimeout
	default:
		return enums.PaymentFailureGeneric
	}
}
