package enums

import "fmt"

// AuditAction names an explicit administrative mutation of ledger state.
type AuditAction string

const (
	AuditActionCorrectSubtotal    AuditAction = "correct_subtotal"
	AuditActionResetSettlement    AuditAction = "reset_settlement"
	AuditActionForceRefundRequest AuditAction = "force_refund_request"
)

var validAuditActions = []AuditAction{
	AuditActionCorrectSubtotal,
	AuditActionResetSettlement,
	AuditActionForceRefundRequest,
}

// String implements fmt.Stringer.
func (a AuditAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AuditAction.
func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditAction converts raw input into an AuditAction.
func ParseAuditAction(value string) (AuditAction, error) {
	for _, candidate := range validAuditActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit action %q", value)
}
