package checkout

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

// Selection is one (item, quantity) pair chosen from the cart.
type Selection struct {
	ItemID   uuid.UUID `json:"item_id" validate:"required"`
	Quantity int64     `json:"quantity" validate:"required,gt=0,max=1000000"`
}

// Input is a checkout request.
type Input struct {
	ResidentID     uuid.UUID
	Selections     []Selection
	IdempotencyKey string
}

// Receipt summarizes a committed checkout.
type Receipt struct {
	ID         uuid.UUID           `json:"id"`
	ResidentID uuid.UUID           `json:"resident_id"`
	Items      types.CheckoutLines `json:"items"`
	TotalPrice decimal.Decimal     `json:"total_price"`
	TotalCost  int64               `json:"total_cost"`
	NewBalance int64               `json:"new_balance"`
	CreatedAt  time.Time           `json:"created_at"`
}

func receiptFromRecord(record *models.CheckoutRecord) *Receipt {
	return &Receipt{
		ID:         record.ID,
		ResidentID: record.ResidentID,
		Items:      record.Lines,
		TotalPrice: record.TotalPrice,
		TotalCost:  record.TotalCost,
		NewBalance: record.NewBalance,
		CreatedAt:  record.CreatedAt,
	}
}

var maxVouchers = decimal.NewFromInt(math.MaxInt64)

// VoucherCost converts a decimal total into whole vouchers, rounding up. ok is
// false when the total is negative or does not fit in an int64.
func VoucherCost(total decimal.Decimal) (cost int64, ok bool) {
	rounded := total.Ceil()
	if rounded.IsNegative() || rounded.GreaterThan(maxVouchers) {
		return 0, false
	}
	return rounded.IntPart(), true
}
