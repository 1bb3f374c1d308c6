package types

import (
	"database/sql/driver"

	"github.com/google/uuid"
)

// MaxEntryQuantity caps the quantity of a single cart entry or checkout line.
const MaxEntryQuantity int64 = 1_000_000

// CartEntry is one selection in a resident's cart.
type CartEntry struct {
	ItemID   uuid.UUID `json:"item_id"`
	Quantity int64     `json:"quantity"`
}

// Cart keeps entries in insertion order and holds at most one entry per item.
type Cart []CartEntry

func (c Cart) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	return valueJSON([]CartEntry(c))
}

func (c *Cart) Scan(value any) error {
	out := []CartEntry{}
	if err := scanJSON(value, &out); err != nil {
		return err
	}
	*c = out
	return nil
}

// Find returns the index of itemID or -1.
func (c Cart) Find(itemID uuid.UUID) int {
	for i, entry := range c {
		if entry.ItemID == itemID {
			return i
		}
	}
	return -1
}

// Quantity returns the quantity held for itemID, zero when absent.
func (c Cart) Quantity(itemID uuid.UUID) int64 {
	if i := c.Find(itemID); i >= 0 {
		return c[i].Quantity
	}
	return 0
}

// Clone returns an independent copy.
func (c Cart) Clone() Cart {
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

// Add merges qty into the entry for itemID, appending a new entry if needed.
// The merged quantity saturates at MaxEntryQuantity.
func (c Cart) Add(itemID uuid.UUID, qty int64) Cart {
	out := c.Clone()
	if i := out.Find(itemID); i >= 0 {
		if qty > MaxEntryQuantity-out[i].Quantity {
			out[i].Quantity = MaxEntryQuantity
		} else {
			out[i].Quantity += qty
		}
		return out
	}
	return append(out, CartEntry{ItemID: itemID, Quantity: qty})
}

// Set replaces the quantity for itemID. A non-positive qty removes the entry.
func (c Cart) Set(itemID uuid.UUID, qty int64) Cart {
	if qty <= 0 {
		return c.Remove(itemID)
	}
	out := c.Clone()
	if i := out.Find(itemID); i >= 0 {
		out[i].Quantity = qty
		return out
	}
	return append(out, CartEntry{ItemID: itemID, Quantity: qty})
}

// Remove drops the entry for itemID, preserving the order of the rest.
func (c Cart) Remove(itemID uuid.UUID) Cart {
	out := make(Cart, 0, len(c))
	for _, entry := range c {
		if entry.ItemID != itemID {
			out = append(out, entry)
		}
	}
	return out
}

// Shrink subtracts qty from the entry for itemID and drops it once empty.
func (c Cart) Shrink(itemID uuid.UUID, qty int64) Cart {
	return c.Set(itemID, c.Quantity(itemID)-qty)
}
