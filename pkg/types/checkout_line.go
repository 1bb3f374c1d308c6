package types

import (
	"database/sql/driver"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutLine snapshots one purchased item at checkout time.
type CheckoutLine struct {
	ItemID    uuid.UUID       `json:"item_id"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type CheckoutLines []CheckoutLine

func (l CheckoutLines) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return valueJSON([]CheckoutLine(l))
}

func (l *CheckoutLines) Scan(value any) error {
	out := []CheckoutLine{}
	if err := scanJSON(value, &out); err != nil {
		return err
	}
	*l = out
	return nil
}
