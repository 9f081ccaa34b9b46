package testbackend

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

type createOrderRequest struct {
	ProductIDs []int64 `json:"productIds"`
	AddressID  int64   `json:"addressId" validate:"required,gt=0"`
	Note       string  `json:"note"`
	FromCart   bool    `json:"fromCart"`
}

// orderNoBase keeps generated numbers inside the 17-20 digit format.
const orderNoBase int64 = 2025010112000000000

func (b *Backend) createOrder(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return reject("invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	uid := currentUserID(c)

	b.mu.Lock()
	defer b.mu.Unlock()

	var items []domain.OrderItem
	if req.FromCart {
		picked := make(map[int64]bool)
		for _, it := range b.carts[uid] {
			if !it.checked {
				continue
			}
			items = append(items, b.orderItemLocked(it.productID, it.quantity))
			picked[it.productID] = true
		}
		if len(items) == 0 {
			return reject("no cart items selected")
		}
		b.removeItemsLocked(uid, picked)
	} else {
		if len(req.ProductIDs) == 0 {
			return reject("productIds are required")
		}
		for _, id := range req.ProductIDs {
			if _, found := b.products[id]; !found {
				return notFound("product")
			}
			items = append(items, b.orderItemLocked(id, 1))
		}
	}

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.TotalPrice)
	}
	now := b.now().UTC()
	orderNo := strconv.FormatInt(orderNoBase+b.nextOrder, 10)
	b.nextOrder++
	b.orders[orderNo] = &order{
		userID: uid,
		record: domain.OrderRecord{
			OrderNo:     orderNo,
			Status:      domain.StatusPendingPayment,
			AddressID:   req.AddressID,
			Items:       items,
			Note:        req.Note,
			TotalAmount: total,
			PayAmount:   total,
			CreatedAt:   &now,
		},
	}
	b.orderSeq = append(b.orderSeq, orderNo)

	return ok(c, b.wireOrderNo(orderNo))
}

type orderPageResponse struct {
	Records []any `json:"records"`
	Total   int64 `json:"total"`
	Page    int   `json:"current"`
	Size    int   `json:"size"`
	Pages   int   `json:"pages"`
}

// numericOrder overrides the embedded string orderNo with a JSON number.
type numericOrder struct {
	domain.OrderRecord
	OrderNo int64 `json:"orderNo"`
}

func (b *Backend) wireOrder(rec domain.OrderRecord) any {
	if !b.numericNo {
		return rec
	}
	n, _ := strconv.ParseInt(rec.OrderNo, 10, 64)
	return numericOrder{OrderRecord: rec, OrderNo: n}
}

// wireOrderNo renders an order number the way the backend is configured to.
func (b *Backend) wireOrderNo(orderNo string) any {
	if !b.numericNo {
		return orderNo
	}
	n, _ := strconv.ParseInt(orderNo, 10, 64)
	return n
}

func (b *Backend) orderItemLocked(pid int64, qty int) domain.OrderItem {
	p := b.products[pid]
	return domain.OrderItem{
		ProductID:  p.ID,
		Name:       p.Name,
		Image:      p.Image,
		Price:      p.Price,
		Quantity:   qty,
		TotalPrice: p.Price.Mul(decimal.NewFromInt(int64(qty))),
	}
}

func (b *Backend) orderDetail(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.ownedOrderLocked(c)
	if err != nil {
		return err
	}
	return ok(c, b.wireOrder(o.record.Clone()))
}

func (b *Backend) cancelOrder(c echo.Context) error {
	return b.transition(c, domain.StatusCancelled)
}

func (b *Backend) confirmOrder(c echo.Context) error {
	return b.transition(c, domain.StatusCompleted)
}

func (b *Backend) transition(c echo.Context, next domain.OrderStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.ownedOrderLocked(c)
	if err != nil {
		return err
	}
	if !o.record.Status.CanTransitionTo(next) {
		return reject(fmt.Sprintf("order status %s does not allow %s", o.record.Status, next))
	}
	now := b.now().UTC()
	o.record.Status = next
	if next == domain.StatusCompleted {
		o.record.CompleteTime = &now
	}
	return ok(c, nil)
}

type payResponse struct {
	OrderNo any            `json:"orderNo"`
	PayType domain.PayType `json:"payType"`
	PayURL  string         `json:"payUrl"`
}

func (b *Backend) payOrder(c echo.Context) error {
	pt, err := strconv.Atoi(c.QueryParam("payType"))
	if err != nil || !domain.PayType(pt).Valid() {
		return reject("unsupported pay type")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.ownedOrderLocked(c)
	if err != nil {
		return err
	}
	if o.record.Status != domain.StatusPendingPayment {
		return reject("order is not awaiting payment")
	}
	o.record.PayType = domain.PayType(pt)
	return ok(c, payResponse{
		OrderNo: b.wireOrderNo(o.record.OrderNo),
		PayType: domain.PayType(pt),
		PayURL:  "https://pay.example.test/checkout?orderNo=" + o.record.OrderNo,
	})
}

func (b *Backend) payCallback(c echo.Context) error {
	if c.QueryParam("tradeNo") == "" {
		return reject("tradeNo is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.ownedOrderLocked(c)
	if err != nil {
		return err
	}
	if o.record.Status != domain.StatusPendingPayment {
		return reject("order already paid")
	}
	now := b.now().UTC()
	o.record.Status = domain.StatusPendingShipping
	o.record.PayTime = &now
	return ok(c, true)
}

func (b *Backend) deleteOrder(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.ownedOrderLocked(c)
	if err != nil {
		return err
	}
	delete(b.orders, o.record.OrderNo)
	for i, no := range b.orderSeq {
		if no == o.record.OrderNo {
			b.orderSeq = append(b.orderSeq[:i], b.orderSeq[i+1:]...)
			break
		}
	}
	return ok(c, nil)
}

func (b *Backend) listOrders(c echo.Context) error {
	page := positiveOr(c.QueryParam("page"), 1)
	size := positiveOr(c.QueryParam("size"), 10)
	var status *domain.OrderStatus
	if raw := c.QueryParam("status"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || !domain.OrderStatus(v).Valid() {
			return reject("unknown order status")
		}
		s := domain.OrderStatus(v)
		status = &s
	}
	uid := currentUserID(c)

	b.mu.Lock()
	// newest first
	var matched []domain.OrderRecord
	for i := len(b.orderSeq) - 1; i >= 0; i-- {
		o := b.orders[b.orderSeq[i]]
		if o.userID != uid || (status != nil && o.record.Status != *status) {
			continue
		}
		matched = append(matched, o.record.Clone())
	}
	b.mu.Unlock()

	total := len(matched)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	records := make([]any, 0, end-start)
	for _, rec := range matched[start:end] {
		records = append(records, b.wireOrder(rec))
	}

	return ok(c, orderPageResponse{
		Records: records,
		Total:   int64(total),
		Page:    page,
		Size:    size,
		Pages:   (total + size - 1) / size,
	})
}

func (b *Backend) ownedOrderLocked(c echo.Context) (*order, error) {
	o, found := b.orders[c.QueryParam("orderNo")]
	if !found || o.userID != currentUserID(c) {
		return nil, notFound("order")
	}
	return o, nil
}

func positiveOr(raw string, def int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}
