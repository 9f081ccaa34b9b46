package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order, encoded 0..4 on the wire.
type OrderStatus int

const (
	StatusPendingPayment  OrderStatus = 0
	StatusPendingShipping OrderStatus = 1
	StatusPendingReceipt  OrderStatus = 2
	StatusCompleted       OrderStatus = 3
	StatusCancelled       OrderStatus = 4
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []OrderStatus{
	StatusPendingPayment,
	StatusPendingShipping,
	StatusPendingReceipt,
	StatusCompleted,
	StatusCancelled,
}

// validTransitions defines the allowed state machine transitions.
var validTransitions = map[OrderStatus][]OrderStatus{
	StatusPendingPayment:  {StatusPendingShipping, StatusCancelled},
	StatusPendingShipping: {StatusPendingReceipt, StatusCancelled},
	StatusPendingReceipt:  {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether a transition from current status to next is valid.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s OrderStatus) Valid() bool {
	return s >= StatusPendingPayment && s <= StatusCancelled
}

func (s OrderStatus) String() string {
	switch s {
	case StatusPendingPayment:
		return "PENDING_PAYMENT"
	case StatusPendingShipping:
		return "PENDING_SHIPPING"
	case StatusPendingReceipt:
		return "PENDING_RECEIPT"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// PayType selects the external payment channel.
type PayType int

const (
	PayTypeAlipay PayType = 1
	PayTypeWechat PayType = 2
)

func (p PayType) Valid() bool { return p == PayTypeAlipay || p == PayTypeWechat }

func (p PayType) String() string {
	switch p {
	case PayTypeAlipay:
		return "ALIPAY"
	case PayTypeWechat:
		return "WECHAT"
	default:
		return "UNKNOWN"
	}
}

// OrderItem is the product snapshot captured when the order was created.
type OrderItem struct {
	ProductID  int64           `json:"productId"`
	Name       string          `json:"productName"`
	Image      string          `json:"productImage,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// OrderRecord is the client view of one order. OrderNo is assigned by the backend.
type OrderRecord struct {
	OrderNo         string          `json:"orderNo"`
	Status          OrderStatus     `json:"status"`
	AddressID       int64           `json:"addressId,omitempty"`
	Items           []OrderItem     `json:"orderItems,omitempty"`
	Note            string          `json:"note,omitempty"`
	PayType         PayType         `json:"payType,omitempty"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	PayAmount       decimal.Decimal `json:"payAmount"`
	ReceiverName    string          `json:"receiverName,omitempty"`
	ReceiverPhone   string          `json:"receiverPhone,omitempty"`
	ReceiverAddress string          `json:"receiverAddress,omitempty"`
	CreatedAt       *time.Time      `json:"createTime,omitempty"`
	PayTime         *time.Time      `json:"payTime,omitempty"`
	ShipTime        *time.Time      `json:"shippingTime,omitempty"`
	CompleteTime    *time.Time      `json:"completeTime,omitempty"`
}

// UnmarshalJSON accepts orderNo as a JSON string or a bare integer.
func (o *OrderRecord) UnmarshalJSON(b []byte) error {
	type plain OrderRecord
	aux := struct {
		*plain
		OrderNo OrderNumber `json:"orderNo"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	o.OrderNo = string(aux.OrderNo)
	return nil
}

// Clone returns a deep copy.
func (o OrderRecord) Clone() OrderRecord {
	out := o
	if o.Items != nil {
		out.Items = append([]OrderItem(nil), o.Items...)
	}
	return out
}

// CreateOrderInput carries checkout parameters. In cart mode ProductIDs is ignored
// and the backend uses the checked cart lines.
type CreateOrderInput struct {
	ProductIDs []int64 `json:"productIds,omitempty" validate:"omitempty,dive,gt=0"`
	AddressID  int64   `json:"addressId"            validate:"required,gt=0"`
	Note       string  `json:"note,omitempty"       validate:"max=500"`
	FromCart   bool    `json:"fromCart"`
}

// ListOrdersQuery carries list filters. A nil Status lists every status.
type ListOrdersQuery struct {
	Status *OrderStatus
	Page   int
	Size   int
}

// OrderPage is one page of the order list.
type OrderPage struct {
	Records []OrderRecord `json:"records"`
	Total   int64         `json:"total"`
	Page    int           `json:"current"`
	Size    int           `json:"size"`
	Pages   int           `json:"pages"`
}

// PaymentHandle is the opaque result of starting a payment.
type PaymentHandle struct {
	OrderNo string  `json:"orderNo"`
	PayType PayType `json:"payType"`
	// PayURL is the redirect target of the external payment page.
	PayURL string `json:"payUrl,omitempty"`
	Form   string `json:"payForm,omitempty"`
}

func (h *PaymentHandle) UnmarshalJSON(b []byte) error {
	type plain PaymentHandle
	aux := struct {
		*plain
		OrderNo OrderNumber `json:"orderNo"`
	}{plain: (*plain)(h)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	h.OrderNo = string(aux.OrderNo)
	return nil
}

// OrderNumber is an order number that the backend may send as a JSON string or
// as a bare integer. Both decode to the same decimal string.
type OrderNumber string

func (n *OrderNumber) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*n = OrderNumber(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = OrderNumber(num.String())
	return nil
}

// StatusCounts is one count per status, gathered by independent queries. It is not
// atomic: Sum may differ from the real order total under concurrent mutation.
type StatusCounts struct {
	Counts    map[OrderStatus]int64
	FetchedAt time.Time
}

// EmptyStatusCounts returns a zeroed snapshot with every status present.
func EmptyStatusCounts() StatusCounts {
	c := StatusCounts{Counts: make(map[OrderStatus]int64, len(AllStatuses))}
	for _, s := range AllStatuses {
		c.Counts[s] = 0
	}
	return c
}

// Sum adds all buckets.
func (c StatusCounts) Sum() int64 {
	var n int64
	for _, v := range c.Counts {
		n += v
	}
	return n
}

// Clone returns a deep copy.
func (c StatusCounts) Clone() StatusCounts {
	out := StatusCounts{Counts: make(map[OrderStatus]int64, len(c.Counts)), FetchedAt: c.FetchedAt}
	for k, v := range c.Counts {
		out.Counts[k] = v
	}
	return out
}
