package enums

// StockWarning is reported alongside a successful stock mutation that had to
// adjust its input.
type StockWarning string

const (
	StockWarningClampedToZero StockWarning = "CLAMPED_TO_ZERO"
)

// String implements fmt.Stringer.
func (w StockWarning) String() string {
	return string(w)
}
