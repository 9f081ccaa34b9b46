package testbackend

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type cartLineResponse struct {
	ProductID    int64           `json:"productId"`
	ProductName  string          `json:"productName"`
	ProductImage string          `json:"productImage,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	Checked      int             `json:"checked"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	Stock        int             `json:"stock"`
}

type cartResponse struct {
	CartItems          []cartLineResponse `json:"cartItems"`
	SelectedCount      int                `json:"selectedCount"`
	SelectedTotalPrice decimal.Decimal    `json:"selectedTotalPrice"`
	TotalPrice         decimal.Decimal    `json:"totalPrice"`
	AllChecked         bool               `json:"allChecked"`
}

func (b *Backend) listCart(c echo.Context) error {
	uid := currentUserID(c)
	b.mu.Lock()
	resp := b.cartLocked(uid)
	b.mu.Unlock()
	return ok(c, resp)
}

func (b *Backend) cartLocked(uid int64) cartResponse {
	resp := cartResponse{
		CartItems:          []cartLineResponse{},
		SelectedTotalPrice: decimal.Zero,
		TotalPrice:         decimal.Zero,
	}
	items := b.carts[uid]
	resp.AllChecked = len(items) > 0
	for _, it := range items {
		p := b.products[it.productID]
		line := cartLineResponse{
			ProductID:    p.ID,
			ProductName:  p.Name,
			ProductImage: p.Image,
			Price:        p.Price,
			Quantity:     it.quantity,
			TotalPrice:   p.Price.Mul(decimal.NewFromInt(int64(it.quantity))),
			Stock:        p.Stock,
		}
		resp.TotalPrice = resp.TotalPrice.Add(line.TotalPrice)
		if it.checked {
			line.Checked = 1
			resp.SelectedCount += it.quantity
			resp.SelectedTotalPrice = resp.SelectedTotalPrice.Add(line.TotalPrice)
		} else {
			resp.AllChecked = false
		}
		resp.CartItems = append(resp.CartItems, line)
	}
	return resp
}

func (b *Backend) cartCount(c echo.Context) error {
	uid := currentUserID(c)
	b.mu.Lock()
	n := len(b.carts[uid])
	b.mu.Unlock()
	return ok(c, n)
}

func (b *Backend) cartExists(c echo.Context) error {
	pid, err := int64Param(c, "productId")
	if err != nil {
		return err
	}
	uid := currentUserID(c)
	b.mu.Lock()
	_, found := b.findItemLocked(uid, pid)
	b.mu.Unlock()
	return ok(c, found)
}

func (b *Backend) addToCart(c echo.Context) error {
	pid, err := int64Param(c, "productId")
	if err != nil {
		return err
	}
	qty, err := quantityParam(c)
	if err != nil {
		return err
	}
	uid := currentUserID(c)

	b.mu.Lock()
	defer b.mu.Unlock()
	p, found := b.products[pid]
	if !found {
		return notFound("product")
	}
	if it, found := b.findItemLocked(uid, pid); found {
		if it.quantity+qty > p.Stock {
			return reject("insufficient stock")
		}
		it.quantity += qty
		return ok(c, nil)
	}
	if qty > p.Stock {
		return reject("insufficient stock")
	}
	b.carts[uid] = append(b.carts[uid], &cartItem{productID: pid, quantity: qty, checked: true})
	return ok(c, nil)
}

func (b *Backend) updateCart(c echo.Context) error {
	pid, err := int64Param(c, "productId")
	if err != nil {
		return err
	}
	qty, err := quantityParam(c)
	if err != nil {
		return err
	}
	uid := currentUserID(c)

	b.mu.Lock()
	defer b.mu.Unlock()
	it, found := b.findItemLocked(uid, pid)
	if !found {
		return notFound("cart item")
	}
	if qty > b.products[pid].Stock {
		return reject("insufficient stock")
	}
	it.quantity = qty
	return ok(c, nil)
}

func (b *Backend) deleteFromCart(c echo.Context) error {
	pid, err := int64Param(c, "productId")
	if err != nil {
		return err
	}
	uid := currentUserID(c)
	b.mu.Lock()
	b.removeItemsLocked(uid, map[int64]bool{pid: true})
	b.mu.Unlock()
	return ok(c, nil)
}

func (b *Backend) deleteBatchFromCart(c echo.Context) error {
	ids, err := int64Params(c, "productIds")
	if err != nil {
		return err
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	uid := currentUserID(c)
	b.mu.Lock()
	b.removeItemsLocked(uid, set)
	b.mu.Unlock()
	return ok(c, nil)
}

func (b *Backend) clearCart(c echo.Context) error {
	uid := currentUserID(c)
	b.mu.Lock()
	delete(b.carts, uid)
	b.mu.Unlock()
	return ok(c, nil)
}

func (b *Backend) checkCart(c echo.Context) error {
	pid, err := int64Param(c, "productId")
	if err != nil {
		return err
	}
	checked, err := checkedParam(c)
	if err != nil {
		return err
	}
	uid := currentUserID(c)

	b.mu.Lock()
	defer b.mu.Unlock()
	it, found := b.findItemLocked(uid, pid)
	if !found {
		return notFound("cart item")
	}
	it.checked = checked
	return ok(c, nil)
}

func (b *Backend) checkBatchCart(c echo.Context) error {
	ids, err := int64Params(c, "productIds")
	if err != nil {
		return err
	}
	checked, err := checkedParam(c)
	if err != nil {
		return err
	}
	uid := currentUserID(c)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if it, found := b.findItemLocked(uid, id); found {
			it.checked = checked
		}
	}
	return ok(c, nil)
}

func (b *Backend) checkAllCart(c echo.Context) error {
	checked, err := checkedParam(c)
	if err != nil {
		return err
	}
	uid := currentUserID(c)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, it := range b.carts[uid] {
		it.checked = checked
	}
	return ok(c, nil)
}

func (b *Backend) findItemLocked(uid, pid int64) (*cartItem, bool) {
	for _, it := range b.carts[uid] {
		if it.productID == pid {
			return it, true
		}
	}
	return nil, false
}

func (b *Backend) removeItemsLocked(uid int64, ids map[int64]bool) {
	kept := b.carts[uid][:0]
	for _, it := range b.carts[uid] {
		if !ids[it.productID] {
			kept = append(kept, it)
		}
	}
	b.carts[uid] = kept
}

// ── Query params ──────────────────────────────────────────────────────────────

func int64Param(c echo.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.QueryParam(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, reject(name + " must be a positive integer")
	}
	return v, nil
}

func int64Params(c echo.Context, name string) ([]int64, error) {
	raw := c.QueryParams()[name]
	if len(raw) == 0 {
		return nil, reject(name + " is required")
	}
	out := make([]int64, 0, len(raw))
	for _, s := range raw {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v <= 0 {
			return nil, reject(name + " must be positive integers")
		}
		out = append(out, v)
	}
	return out, nil
}

func quantityParam(c echo.Context) (int, error) {
	v, err := strconv.Atoi(c.QueryParam("quantity"))
	if err != nil || v < 1 {
		return 0, reject("quantity must be at least 1")
	}
	return v, nil
}

func checkedParam(c echo.Context) (bool, error) {
	switch c.QueryParam("checked") {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, reject("checked must be 0 or 1")
	}
}
