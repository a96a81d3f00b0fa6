package enums

// PaymentPollStatus is the answer served to a client polling for the outcome
// of a payment attempt.
type PaymentPollStatus string

const (
	PaymentPollStatusSuccess PaymentPollStatus = "success"
	PaymentPollStatusFailed  PaymentPollStatus = "failed"
	PaymentPollStatusPending PaymentPollStatus = "pending"
)

// String implements fmt.Stringer.
func (p PaymentPollStatus) String() string {
	return string(p)
}
