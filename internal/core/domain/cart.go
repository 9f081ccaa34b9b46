package domain

import "github.com/shopspring/decimal"

// CartLine is one product entry in the cart. ProductID is unique within a cart.
type CartLine struct {
	ProductID int64
	Name      string
	Image     string
	UnitPrice decimal.Decimal
	Quantity  int
	Checked   bool
	LineTotal decimal.Decimal
	Stock     int
}

// Totals are the fields derived from the line set. They are never mutated on their own.
type Totals struct {
	SelectedCount      int
	SelectedTotalPrice decimal.Decimal
	TotalPrice         decimal.Decimal
	AllChecked         bool
}

// Equal compares totals by value; decimals are compared numerically.
func (t Totals) Equal(o Totals) bool {
	return t.SelectedCount == o.SelectedCount &&
		t.AllChecked == o.AllChecked &&
		t.SelectedTotalPrice.Equal(o.SelectedTotalPrice) &&
		t.TotalPrice.Equal(o.TotalPrice)
}

// CartAggregate is the local mirror of the server cart.
type CartAggregate struct {
	Lines  []CartLine
	Totals Totals
}

// Recompute derives every total from lines. It also refreshes each LineTotal in place
// so that LineTotal == UnitPrice * Quantity holds after the call.
func Recompute(lines []CartLine) Totals {
	t := Totals{
		SelectedTotalPrice: decimal.Zero,
		TotalPrice:         decimal.Zero,
		AllChecked:         len(lines) > 0,
	}
	for i := range lines {
		line := &lines[i]
		line.LineTotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		t.TotalPrice = t.TotalPrice.Add(line.LineTotal)
		if line.Checked {
			t.SelectedCount += line.Quantity
			t.SelectedTotalPrice = t.SelectedTotalPrice.Add(line.LineTotal)
		} else {
			t.AllChecked = false
		}
	}
	return t
}

// NewCartAggregate copies lines and derives totals from them.
func NewCartAggregate(lines []CartLine) CartAggregate {
	owned := make([]CartLine, len(lines))
	copy(owned, lines)
	return CartAggregate{Lines: owned, Totals: Recompute(owned)}
}

// Clone returns a deep copy (lines are values; decimals are immutable).
func (c CartAggregate) Clone() CartAggregate {
	lines := make([]CartLine, len(c.Lines))
	copy(lines, c.Lines)
	return CartAggregate{Lines: lines, Totals: c.Totals}
}

// Index returns the position of productID in Lines, or -1.
func (c CartAggregate) Index(productID int64) int {
	for i, l := range c.Lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

// Contains reports whether productID has a line.
func (c CartAggregate) Contains(productID int64) bool { return c.Index(productID) >= 0 }

// Count is the total quantity across all lines.
func (c CartAggregate) Count() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// Selected returns copies of the checked lines.
func (c CartAggregate) Selected() []CartLine {
	var out []CartLine
	for _, l := range c.Lines {
		if l.Checked {
			out = append(out, l)
		}
	}
	return out
}
