package enums

import "fmt"

// AuditAction names the mutation an audit entry records.
type AuditAction string

const (
	AuditActionStockDecrement AuditAction = "stock_decrement"
	AuditActionStockRestock   AuditAction = "stock_restock"
	AuditActionStockSet       AuditAction = "stock_set"
	AuditActionBalanceDebit   AuditAction = "balance_debit"
	AuditActionBalanceCredit  AuditAction = "balance_credit"
)

var validAuditActions = []AuditAction{
	AuditActionStockDecrement,
	AuditActionStockRestock,
	AuditActionStockSet,
	AuditActionBalanceDebit,
	AuditActionBalanceCredit,
}

// IsValid reports whether the value is a known audit action.
func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsStock reports whether the action mutates item stock.
func (a AuditAction) IsStock() bool {
	return a == AuditActionStockDecrement || a == AuditActionStockRestock || a == AuditActionStockSet
}

// ParseAuditAction converts raw input into AuditAction.
func ParseAuditAction(value string) (AuditAction, error) {
	for _, candidate := range validAuditActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit action %q", value)
}
