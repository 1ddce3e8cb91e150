package enums

import "fmt"

// PayoutBatchStatus tracks a settlement batch.
type PayoutBatchStatus string

const (
	PayoutBatchStatusSettled  PayoutBatchStatus = "settled"
	PayoutBatchStatusReversed PayoutBatchStatus = "reversed"
)

var validPayoutBatchStatuses = []PayoutBatchStatus{
	PayoutBatchStatusSettled,
	PayoutBatchStatusReversed,
}

// String implements fmt.Stringer.
func (s PayoutBatchStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PayoutBatchStatus.
func (s PayoutBatchStatus) IsValid() bool {
	for _, candidate := range validPayoutBatchStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePayoutBatchStatus converts raw input into a PayoutBatchStatus.
func ParsePayoutBatchStatus(value string) (PayoutBatchStatus, error) {
	for _, candidate := range validPayoutBatchStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout batch status %q", value)
}
