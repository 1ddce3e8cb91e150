package enums

import "fmt"

// RefundRequestStatus tracks the lifecycle of a refund request.
type RefundRequestStatus string

const (
	RefundRequestStatusPending    RefundRequestStatus = "pending"
	RefundRequestStatusApproved   RefundRequestStatus = "approved"
	RefundRequestStatusProcessing RefundRequestStatus = "processing"
	RefundRequestStatusCompleted  RefundRequestStatus = "completed"
	RefundRequestStatusRejected   RefundRequestStatus = "rejected"
)

var validRefundRequestStatuses = []RefundRequestStatus{
	RefundRequestStatusPending,
	RefundRequestStatusApproved,
	RefundRequestStatusProcessing,
	RefundRequestStatusCompleted,
	RefundRequestStatusRejected,
}

// String implements fmt.Stringer.
func (r RefundRequestStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundRequestStatus.
func (r RefundRequestStatus) IsValid() bool {
	for _, candidate := range validRefundRequestStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the request can no longer change.
// At most one non-terminal request may exist per order.
func (r RefundRequestStatus) IsTerminal() bool {
	return r == RefundRequestStatusCompleted || r == RefundRequestStatusRejected
}

// ParseRefundRequestStatus converts raw input into a RefundRequestStatus.
func ParseRefundRequestStatus(value string) (RefundRequestStatus, error) {
	for _, candidate := range validRefundRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund request status %q", value)
}
