package enums

import "fmt"

// EnrollmentStatus tracks the lifecycle of a student's enrollment in a course.
type EnrollmentStatus string

const (
	EnrollmentStatusInitiated   EnrollmentStatus = "initiated"
	EnrollmentStatusPaidPending EnrollmentStatus = "paid_pending_approval"
	EnrollmentStatusApproved    EnrollmentStatus = "approved"
	EnrollmentStatusFailed      EnrollmentStatus = "failed"
	EnrollmentStatusRejected    EnrollmentStatus = "rejected"
)

var validEnrollmentStatuses = []EnrollmentStatus{
	EnrollmentStatusInitiated,
	EnrollmentStatusPaidPending,
	EnrollmentStatusApproved,
	EnrollmentStatusFailed,
	EnrollmentStatusRejected,
}

// String implements fmt.Stringer.
func (s EnrollmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known EnrollmentStatus.
func (s EnrollmentStatus) IsValid() bool {
	for _, candidate := range validEnrollmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsPaid reports whether the enrollment reflects a confirmed payment,
// approved or still awaiting the mentor decision.
func (s EnrollmentStatus) IsPaid() bool {
	return s == EnrollmentStatusPaidPending || s == EnrollmentStatusApproved
}

// CanDecide reports whether the mentor approval workflow may act on the
// enrollment. Only payments awaiting a decision qualify; every other state is
// either terminal for the attempt or not yet paid.
func (s EnrollmentStatus) CanDecide() bool {
	return s == EnrollmentStatusPaidPending
}

// ParseEnrollmentStatus converts raw input into an EnrollmentStatus.
func ParseEnrollmentStatus(value string) (EnrollmentStatus, error) {
	for _, candidate := range validEnrollmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid enrollment status %q", value)
}
