package enums

// PaymentFailureReason categorizes a provider rejection for user messaging.
type PaymentFailureReason string

const (
	PaymentFailureInsufficientFunds PaymentFailureReason = "insufficient_funds"
	PaymentFailureInvalidNumber     PaymentFailureReason = "invalid_number"
	PaymentFailureTimeout           PaymentFailureReason = "timeout"
	PaymentFailureCancelled         PaymentFailureReason = "cancelled"
	PaymentFailureGeneric           PaymentFailureReason = "generic"
)

// String implements fmt.Stringer.
func (r PaymentFailureReason) String() string {
	return string(r)
}

// UserMessage returns the actionable message shown to the student.
func (r PaymentFailureReason) UserMessage() string {
	switch r {
	case PaymentFailureInsufficientFunds:
		return "Your M-Pesa balance is insufficient for this course fee."
	case PaymentFailureInvalidNumber:
		return "The phone number could not be reached. Check the number and try again."
	case PaymentFailureTimeout:
		return "The payment request timed out. Please try again."
	case PaymentFailureCancelled:
		return "The payment request was cancelled on the phone."
	default:
		return "The payment could not be started. Please try again later."
	}
}
