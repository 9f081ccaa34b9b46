package service

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

// cartLineDTO is one entry of GET /user/cart. checked is 0 or 1 on the wire.
type cartLineDTO struct {
	ProductID    int64           `json:"productId"`
	ProductName  string          `json:"productName"`
	ProductImage string          `json:"productImage"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	Checked      int             `json:"checked"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	Stock        int             `json:"stock"`
}

type cartDTO struct {
	CartItems          []cartLineDTO   `json:"cartItems"`
	SelectedCount      int             `json:"selectedCount"`
	SelectedTotalPrice decimal.Decimal `json:"selectedTotalPrice"`
	TotalPrice         decimal.Decimal `json:"totalPrice"`
	AllChecked         bool            `json:"allChecked"`
}

// toLines maps wire lines to domain lines, dropping duplicates of an already seen
// product and lines with a quantity below one. The second result counts dropped
// entries.
func (d cartDTO) toLines() ([]domain.CartLine, int) {
	lines := make([]domain.CartLine, 0, len(d.CartItems))
	seen := make(map[int64]struct{}, len(d.CartItems))
	dropped := 0
	for _, item := range d.CartItems {
		if _, dup := seen[item.ProductID]; dup || item.Quantity < 1 {
			dropped++
			continue
		}
		seen[item.ProductID] = struct{}{}
		lines = append(lines, domain.CartLine{
			ProductID: item.ProductID,
			Name:      item.ProductName,
			Image:     item.ProductImage,
			UnitPrice: item.Price,
			Quantity:  item.Quantity,
			Checked:   item.Checked == 1,
			Stock:     item.Stock,
		})
	}
	return lines, dropped
}

// reportedTotals is what the backend claims; it is only ever compared against the
// local derivation.
func (d cartDTO) reportedTotals() domain.Totals {
	return domain.Totals{
		SelectedCount:      d.SelectedCount,
		SelectedTotalPrice: d.SelectedTotalPrice,
		TotalPrice:         d.TotalPrice,
		AllChecked:         d.AllChecked,
	}
}

func checkedParam(checked bool) string {
	if checked {
		return "1"
	}
	return "0"
}

func idParam(id int64) string {
	return strconv.FormatInt(id, 10)
}
