package enums

import "fmt"

// WalletReason qualifies an idempotency key; a resident applies each pair once.
type WalletReason string

const (
	WalletReasonCheckout   WalletReason = "checkout"
	WalletReasonTaskReward WalletReason = "task_reward"
	WalletReasonRefund     WalletReason = "refund"
	WalletReasonAdjustment WalletReason = "adjustment"
)

var validWalletReasons = []WalletReason{
	WalletReasonCheckout,
	WalletReasonTaskReward,
	WalletReasonRefund,
	WalletReasonAdjustment,
}

// IsValid reports whether the value matches a known wallet reason.
func (r WalletReason) IsValid() bool {
	for _, candidate := range validWalletReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseWalletReason converts raw input into WalletReason.
func ParseWalletReason(value string) (WalletReason, error) {
	for _, candidate := range validWalletReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet reason %q", value)
}

// WalletDirection records whether an application added or removed vouchers.
type WalletDirection string

const (
	WalletDirectionDebit  WalletDirection = "debit"
	WalletDirectionCredit WalletDirection = "credit"
)
